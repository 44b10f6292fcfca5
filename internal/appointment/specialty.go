package appointment

import "strings"

type Specialty int

const (
	SpecialtyOther Specialty = iota
	SpecialtyCardiologist
	SpecialtyDentist
	SpecialtyDermatologist
	SpecialtyNeurologist
	SpecialtyPediatrician
	SpecialtyPsychologist
	SpecialtyGynecologist
	SpecialtyOphthalmologist
)

var specialtyNames = map[Specialty]string{
	SpecialtyOther:           "Other",
	SpecialtyCardiologist:    "Cardiologist",
	SpecialtyDentist:         "Dentist",
	SpecialtyDermatologist:   "Dermatologist",
	SpecialtyNeurologist:     "Neurologist",
	SpecialtyPediatrician:    "Pediatrician",
	SpecialtyPsychologist:    "Psychologist",
	SpecialtyGynecologist:    "Gynecologist",
	SpecialtyOphthalmologist: "Ophthalmologist",
}

var specialtyByName = func() map[string]Specialty {
	m := make(map[string]Specialty, len(specialtyNames))
	for s, name := range specialtyNames {
		m[strings.ToLower(name)] = s
	}
	return m
}()

func (s Specialty) String() string {
	if name, ok := specialtyNames[s]; ok {
		return name
	}
	return specialtyNames[SpecialtyOther]
}

// ParseSpecialty maps a free-form label onto the enum. Labels that are not one of
// the known specialties come back as SpecialtyOther together with the trimmed label.
func ParseSpecialty(label string) (Specialty, string) {
	trimmed := strings.TrimSpace(label)
	if s, ok := specialtyByName[strings.ToLower(trimmed)]; ok {
		return s, ""
	}
	return SpecialtyOther, trimmed
}

// Specialties lists the known specialties in display order.
func Specialties() []Specialty {
	return []Specialty{
		SpecialtyCardiologist,
		SpecialtyDentist,
		SpecialtyDermatologist,
		SpecialtyNeurologist,
		SpecialtyPediatrician,
		SpecialtyPsychologist,
		SpecialtyGynecologist,
		SpecialtyOphthalmologist,
		SpecialtyOther,
	}
}
