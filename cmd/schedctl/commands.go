package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/client"
)

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "schedctl",
		Short:         "Command line client for the appointment scheduling API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("SCHEDCTL_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SCHEDCTL_TOKEN"), "bearer token (or SCHEDCTL_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		tokenCmd(),
		specialtiesCmd(opts),
		practitionerCmd(opts),
		patientCmd(opts),
		availabilityCmd(opts),
		slotsCmd(opts),
		bookCmd(opts),
		confirmCmd(opts),
		cancelCmd(opts),
		showCmd(opts),
		historyCmd(opts),
		appointmentsCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// session is what every API command needs: a client and the caller it acts as.
type session struct {
	client *client.Client
	me     api.Identity
	ctx    context.Context
	cancel context.CancelFunc
}

func (o *globalOptions) session(cmd *cobra.Command) (*session, error) {
	if o.token == "" {
		return nil, errors.New("no token: pass --token or set SCHEDCTL_TOKEN")
	}
	me, err := client.TokenIdentity(o.token)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	return &session{client: client.New(o.server, o.token), me: me, ctx: ctx, cancel: cancel}, nil
}

// run opens a session, calls fn and prints what it returns as JSON.
func (o *globalOptions) run(fn func(s *session) (any, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := o.session(cmd)
		if err != nil {
			return err
		}
		defer s.cancel()

		out, err := fn(s)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: %w", what, err)
	}
	return id, nil
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		id     string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or IDENTITY_SECRET is required")
			}
			caller := uuid.New()
			if id != "" {
				var err error
				if caller, err = parseID(id, "--id"); err != nil {
					return err
				}
			}
			token, err := api.IssueToken(secret, caller, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("IDENTITY_SECRET"), "HMAC secret shared with the API server")
	cmd.Flags().StringVar(&id, "id", "", "caller id, random when empty")
	cmd.Flags().StringVar(&name, "name", "", "caller display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func specialtiesCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "specialties",
		Short: "List the fixed specialty catalogue",
		RunE: o.run(func(s *session) (any, error) {
			return s.client.Specialties(s.ctx)
		}),
	}
}

func practitionerCmd(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "practitioner", Short: "Register and find practitioners"}

	var name, specialty string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register the token holder as a practitioner",
		RunE: o.run(func(s *session) (any, error) {
			if name == "" {
				name = s.me.Name
			}
			return s.client.RegisterPractitioner(s.ctx, name, specialty)
		}),
	}
	register.Flags().StringVar(&name, "name", "", "display name, defaults to the token name")
	register.Flags().StringVar(&specialty, "specialty", "", "specialty label")
	_ = register.MarkFlagRequired("specialty")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List practitioners, optionally by specialty",
		RunE: o.run(func(s *session) (any, error) {
			return s.client.ListPractitioners(s.ctx, filter)
		}),
	}
	list.Flags().StringVar(&filter, "specialty", "", "only this specialty")

	cmd.AddCommand(register, list)
	return cmd
}

func patientCmd(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "patient", Short: "Register patients"}

	var name, email string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register the token holder as a patient",
		RunE: o.run(func(s *session) (any, error) {
			if name == "" {
				name = s.me.Name
			}
			var e *string
			if email != "" {
				e = &email
			}
			return s.client.RegisterPatient(s.ctx, name, e)
		}),
	}
	register.Flags().StringVar(&name, "name", "", "display name, defaults to the token name")
	register.Flags().StringVar(&email, "email", "", "contact email")

	cmd.AddCommand(register)
	return cmd
}

func availabilityCmd(o *globalOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "availability", Short: "Manage availability windows"}

	var req api.DeclareAvailabilityRequest
	declare := &cobra.Command{
		Use:   "declare",
		Short: "Declare a window for the token holder",
		RunE: o.run(func(s *session) (any, error) {
			return s.client.DeclareAvailability(s.ctx, s.me.ID, req)
		}),
	}
	declare.Flags().StringVar(&req.Date, "date", "", "YYYY-MM-DD")
	declare.Flags().StringVar(&req.Start, "start", "", "HH:MM")
	declare.Flags().StringVar(&req.End, "end", "", "HH:MM, 24:00 for end of day")
	declare.Flags().IntVar(&req.GranularityMinutes, "granularity", 0, "slot length in minutes, server default when 0")
	for _, f := range []string{"date", "start", "end"} {
		_ = declare.MarkFlagRequired(f)
	}

	var practitioner, date string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a practitioner's windows on a date",
		RunE: o.run(func(s *session) (any, error) {
			id := s.me.ID
			if practitioner != "" {
				var err error
				if id, err = parseID(practitioner, "--practitioner"); err != nil {
					return nil, err
				}
			}
			return s.client.ListWindows(s.ctx, id, date)
		}),
	}
	list.Flags().StringVar(&practitioner, "practitioner", "", "practitioner id, defaults to the token holder")
	list.Flags().StringVar(&date, "date", "", "YYYY-MM-DD")
	_ = list.MarkFlagRequired("date")

	revoke := idCmd(o, "revoke", "window", "Revoke one of the token holder's windows",
		func(s *session, id uuid.UUID) (any, error) {
			return s.client.RevokeWindow(s.ctx, id)
		})

	cmd.AddCommand(declare, list, revoke)
	return cmd
}

func slotsCmd(o *globalOptions) *cobra.Command {
	var practitioner, date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List a practitioner's slots on a date with availability",
		RunE: o.run(func(s *session) (any, error) {
			id, err := parseID(practitioner, "--practitioner")
			if err != nil {
				return nil, err
			}
			return s.client.ListSlots(s.ctx, id, date)
		}),
	}
	cmd.Flags().StringVar(&practitioner, "practitioner", "", "practitioner id")
	cmd.Flags().StringVar(&date, "date", "", "YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("practitioner")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func bookCmd(o *globalOptions) *cobra.Command {
	var req api.BookAppointmentRequest
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a slot as the token holder",
		RunE: o.run(func(s *session) (any, error) {
			return s.client.Book(s.ctx, req)
		}),
	}
	cmd.Flags().StringVar(&req.PractitionerID, "practitioner", "", "practitioner id")
	cmd.Flags().StringVar(&req.Date, "date", "", "YYYY-MM-DD")
	cmd.Flags().StringVar(&req.SlotStart, "start", "", "slot start HH:MM")
	cmd.Flags().StringVar(&req.IdempotencyKey, "key", "", "idempotency key, generated when empty")
	for _, f := range []string{"practitioner", "date", "start"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// idCmd builds a command that acts on the id given as its only argument.
func idCmd(o *globalOptions, use, what, short string, fn func(s *session, id uuid.UUID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <" + what + "-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], what+" id")
			if err != nil {
				return err
			}
			return o.run(func(s *session) (any, error) { return fn(s, id) })(cmd, args)
		},
	}
}

func confirmCmd(o *globalOptions) *cobra.Command {
	var message string
	cmd := idCmd(o, "confirm", "appointment", "Confirm a requested appointment as its practitioner",
		func(s *session, id uuid.UUID) (any, error) {
			return s.client.Confirm(s.ctx, id, message)
		})
	cmd.Flags().StringVar(&message, "message", "", "message shown to the patient")
	return cmd
}

func cancelCmd(o *globalOptions) *cobra.Command {
	var reason string
	cmd := idCmd(o, "cancel", "appointment", "Cancel an appointment as either party",
		func(s *session, id uuid.UUID) (any, error) {
			return s.client.Cancel(s.ctx, id, reason)
		})
	cmd.Flags().StringVar(&reason, "reason", "", "recorded in the audit trail")
	return cmd
}

func showCmd(o *globalOptions) *cobra.Command {
	return idCmd(o, "show", "appointment", "Show one appointment",
		func(s *session, id uuid.UUID) (any, error) {
			return s.client.GetAppointment(s.ctx, id)
		})
}

func historyCmd(o *globalOptions) *cobra.Command {
	return idCmd(o, "history", "appointment", "Show the audit trail of an appointment",
		func(s *session, id uuid.UUID) (any, error) {
			return s.client.History(s.ctx, id)
		})
}

func appointmentsCmd(o *globalOptions) *cobra.Command {
	var (
		as            string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "List the token holder's appointments",
		RunE: o.run(func(s *session) (any, error) {
			switch as {
			case "patient":
				return s.client.ListPatientAppointments(s.ctx, s.me.ID, limit, offset)
			case "practitioner":
				return s.client.ListPractitionerAppointments(s.ctx, s.me.ID, limit, offset)
			}
			return nil, fmt.Errorf("--as must be patient or practitioner, got %q", as)
		}),
	}
	cmd.Flags().StringVar(&as, "as", "patient", "patient or practitioner")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size, 0 for everything")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}
