package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/app/bootstrap"
	"github.com/hackgods/appointment-engine/internal/appointment"
	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/logging"
)

type seedOptions struct {
	practitioners int
	patients      int
	days          int
	seed          uint64
	tokens        int
}

func main() {
	var opts seedOptions
	flag.IntVar(&opts.practitioners, "practitioners", 100, "practitioners to register")
	flag.IntVar(&opts.patients, "patients", 2000, "patients to register")
	flag.IntVar(&opts.days, "days", 14, "days of availability to declare, starting tomorrow")
	flag.Uint64Var(&opts.seed, "seed", 0, "faker seed, 0 picks a random one")
	flag.IntVar(&opts.tokens, "tokens", 3, "print bearer tokens for this many seeded practitioners and patients")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info().Str("store", cfg.StoreBackend).Msg("seed starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.BuildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build runtime")
	}
	defer rt.Close()

	s := &seeder{svc: rt.Service, faker: gofakeit.New(opts.seed), log: logger}

	practitioners, err := s.practitioners(ctx, opts.practitioners)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}
	windows, err := s.availability(ctx, practitioners, opts.days)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed availability")
	}
	patients, err := s.patients(ctx, opts.patients)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().
		Int("practitioners", len(practitioners)).
		Int("windows", windows).
		Int("patients", len(patients)).
		Msg("seed complete")

	if cfg.IdentitySecret != "" {
		printTokens(cfg.IdentitySecret, "practitioner", practitioners, opts.tokens)
		printTokens(cfg.IdentitySecret, "patient", patients, opts.tokens)
	}
}

type seeded struct {
	id   uuid.UUID
	name string
}

type seeder struct {
	svc   *appointment.Service
	faker *gofakeit.Faker
	log   zerolog.Logger
}

func (s *seeder) practitioners(ctx context.Context, count int) ([]seeded, error) {
	specialties := appointment.Specialties()
	out := make([]seeded, 0, count)
	for i := 0; i < count; i++ {
		name := "Dr. " + s.faker.Name()
		spec := specialties[s.faker.Number(0, len(specialties)-1)]
		p, err := s.svc.RegisterPractitioner(ctx, uuid.New(), name, spec.String())
		if err != nil {
			return nil, err
		}
		out = append(out, seeded{id: p.ID, name: p.Name})
	}
	return out, nil
}

// availability gives every practitioner a morning and an afternoon window on
// weekdays. Granularity varies so that slot lists differ between practitioners.
func (s *seeder) availability(ctx context.Context, practitioners []seeded, days int) (int, error) {
	granularities := []int{15, 20, 30, 45, 60}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	declared := 0

	for _, p := range practitioners {
		granularity := granularities[s.faker.Number(0, len(granularities)-1)]
		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			for _, w := range [][2]appointment.TimeOfDay{{9 * 60, 12 * 60}, {13 * 60, 17 * 60}} {
				if _, err := s.svc.DeclareAvailability(ctx, p.id, date, w[0], w[1], granularity); err != nil {
					return declared, fmt.Errorf("declare for %s on %s: %w", p.id, appointment.FormatDate(date), err)
				}
				declared++
			}
		}
		s.log.Debug().Str("practitioner_id", p.id.String()).Int("granularity", granularity).Msg("declared availability")
	}
	return declared, nil
}

func (s *seeder) patients(ctx context.Context, count int) ([]seeded, error) {
	out := make([]seeded, 0, count)
	for i := 0; i < count; i++ {
		var email *string
		if s.faker.Bool() {
			e := s.faker.Email()
			email = &e
		}
		p, err := s.svc.RegisterPatient(ctx, uuid.New(), s.faker.Name(), email)
		if err != nil {
			return nil, err
		}
		out = append(out, seeded{id: p.ID, name: p.Name})
	}
	return out, nil
}

func printTokens(secret, role string, people []seeded, n int) {
	for i := 0; i < n && i < len(people); i++ {
		token, err := api.IssueToken(secret, people[i].id, people[i].name, 24*time.Hour)
		if err != nil {
			continue
		}
		fmt.Printf("%s %s (%s)\n  %s\n", role, people[i].id, people[i].name, token)
	}
}
