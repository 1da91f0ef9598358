package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tablewait/internal/notifications"
	"tablewait/internal/shared/config"
	"tablewait/internal/shared/database"
	"tablewait/internal/waitlist"
	"tablewait/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type Seeder struct {
	cfg *config.Config
	db  *database.DB
	log *logger.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Seed and exercise a TableWait database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newEntriesCmd())
	root.AddCommand(newSlotCmd())
	root.AddCommand(newCleanCmd())

	return root
}

// openSeeder loads config and connects; the caller closes the database
func openSeeder() (*Seeder, error) {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewWithLevel(cfg.LogLevel)
	logger.SetDefault(log)

	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Seeder{cfg: cfg, db: db, log: log}, nil
}

func newEntriesCmd() *cobra.Command {
	var (
		date  string
		count int
	)

	c := &cobra.Command{
		Use:   "entries",
		Short: "Add demo customers to the waitlist of a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSeeder()
			if err != nil {
				return err
			}
			defer s.db.Close()

			if date == "" {
				date = time.Now().In(s.cfg.Location()).AddDate(0, 0, 1).Format("2006-01-02")
			}

			fmt.Printf("🌱 Seeding %d waitlist entries for %s...\n", count, date)
			added, err := s.SeedEntries(cmd.Context(), date, count)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Added %d entries\n", added)
			return nil
		},
	}

	c.Flags().StringVar(&date, "date", "", "Waitlist date (YYYY-MM-DD), defaults to tomorrow")
	c.Flags().IntVar(&count, "count", len(demoCustomers), "Number of entries to add")
	return c
}

func newSlotCmd() *cobra.Command {
	var (
		date     string
		slotTime string
		tableID  string
		capacity int
		reason   string
		hold     time.Duration
	)

	c := &cobra.Command{
		Use:   "slot",
		Short: "Report a freed table and offer it to the best waiting customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSeeder()
			if err != nil {
				return err
			}
			defer s.db.Close()

			if date == "" {
				date = time.Now().In(s.cfg.Location()).AddDate(0, 0, 1).Format("2006-01-02")
			}

			slot := &waitlist.AvailableSlot{
				Date:           date,
				Time:           slotTime,
				TableID:        tableID,
				Capacity:       capacity,
				Reason:         waitlist.SlotReason(strings.ToUpper(reason)),
				AvailableUntil: time.Now().UTC().Add(hold),
			}
			return s.ReportSlot(cmd.Context(), slot)
		},
	}

	c.Flags().StringVar(&date, "date", "", "Slot date (YYYY-MM-DD), defaults to tomorrow")
	c.Flags().StringVar(&slotTime, "time", "19:00", "Slot time (HH:MM)")
	c.Flags().StringVar(&tableID, "table", "T1", "Table identifier")
	c.Flags().IntVar(&capacity, "capacity", 4, "Seats at the table")
	c.Flags().StringVar(&reason, "reason", string(waitlist.SlotReasonCancellation), "CANCELLATION, NO_SHOW, EARLY_DEPARTURE or NEWLY_OPENED")
	c.Flags().DurationVar(&hold, "hold", time.Hour, "How long the table stays available")
	return c
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete all waitlist data",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSeeder()
			if err != nil {
				return err
			}
			defer s.db.Close()

			fmt.Println("🧹 Cleaning database...")
			if err := s.CleanDatabase(); err != nil {
				return err
			}
			fmt.Println("✅ Database cleaned successfully")
			return nil
		},
	}
}

// newService builds an engine over the real store. Offers it issues are
// re-armed by the server's reconcile job once this process exits.
func (s *Seeder) newService() (waitlist.Service, notifications.Service, error) {
	notifier, err := notifications.NewService(s.cfg, s.log)
	if err != nil {
		return nil, nil, err
	}

	config := waitlist.DefaultServiceConfig()
	config.ConfirmationWindow = s.cfg.Waitlist.ConfirmationWindow
	config.Registry.MaxPartySize = s.cfg.Waitlist.MaxPartySize
	config.Registry.Location = s.cfg.Location()

	service := waitlist.NewService(waitlist.NewRepository(s.db.GetSQL()), notifier.Sender(), waitlist.Dependencies{
		Locker: waitlist.NewLocalLocker(),
		Logger: s.log,
	}, config)
	return service, notifier, nil
}

type demoCustomer struct {
	name      string
	email     string
	phone     string
	partySize int
	times     []string
	priority  waitlist.Priority
	occasion  string
}

var demoCustomers = []demoCustomer{
	{"Ana Souza", "ana@example.com", "+15550101", 2, []string{"19:00", "19:30"}, waitlist.PriorityMedium, "Anniversary"},
	{"Ben Okafor", "ben@example.com", "", 4, []string{"19:00"}, waitlist.PriorityLow, ""},
	{"Chloe Martin", "", "+15550103", 3, []string{waitlist.AnyTime}, waitlist.PriorityHigh, "Birthday"},
	{"Dev Patel", "dev@example.com", "+15550104", 6, []string{"20:00", "20:30"}, waitlist.PriorityMedium, ""},
	{"Elena Rossi", "elena@example.com", "", 2, []string{"18:30", "19:00"}, waitlist.PriorityVIP, ""},
	{"Farid Haddad", "farid@example.com", "+15550106", 5, []string{"21:00"}, waitlist.PriorityLow, "Business dinner"},
}

// SeedEntries adds up to count demo customers, cycling through the list
func (s *Seeder) SeedEntries(ctx context.Context, date string, count int) (int, error) {
	service, _, err := s.newService()
	if err != nil {
		return 0, err
	}

	added := 0
	for i := 0; i < count; i++ {
		customer := demoCustomers[i%len(demoCustomers)]
		email := customer.email
		if email != "" && i >= len(demoCustomers) {
			// Keep contacts unique when cycling
			email = fmt.Sprintf("%d.%s", i/len(demoCustomers), email)
		}

		entry, err := service.AddEntry(ctx, &waitlist.JoinWaitlistRequest{
			CustomerName: customer.name,
			Email:        email,
			Phone:        customer.phone,
			EmailOptIn:   email != "",
			SMSOptIn:     customer.phone != "",
			Date:         date,
			TimeSlots:    customer.times,
			PartySize:    customer.partySize,
			Occasion:     customer.occasion,
			Priority:     customer.priority,
		})
		if err != nil {
			if waitlist.IsValidationError(err) {
				fmt.Printf("  ⚠️  Skipping %s: %v\n", customer.name, err)
				continue
			}
			return added, err
		}
		fmt.Printf("  👤 %s (party of %d, %s) -> %s\n", customer.name, customer.partySize, customer.priority, entry.ID)
		added++
	}
	return added, nil
}

// ReportSlot runs one slot through matching and waits for the offer to go out
func (s *Seeder) ReportSlot(ctx context.Context, slot *waitlist.AvailableSlot) error {
	service, notifier, err := s.newService()
	if err != nil {
		return err
	}
	if err := notifier.Start(ctx); err != nil {
		return err
	}
	defer notifier.Stop()

	if err := service.Start(ctx); err != nil {
		return err
	}
	// Stop drains pending deliveries
	defer service.Stop()

	result, err := service.OnSlotAvailable(ctx, slot)
	switch {
	case errors.Is(err, waitlist.ErrNoMatch), errors.Is(err, waitlist.ErrSlotUnavailable):
		fmt.Println("🪑 No compatible waiting entry, slot returned")
		return nil
	case err != nil:
		return err
	}

	fmt.Printf("📨 Offered table %s to %s (entry %s), respond by %s\n",
		slot.TableID, result.Entry.CustomerName, result.Entry.ID, result.Deadline.Format(time.RFC3339))
	return nil
}

// CleanDatabase removes every waitlist row; works on all supported drivers
func (s *Seeder) CleanDatabase() error {
	models := []struct {
		name  string
		model interface{}
	}{
		{"waitlist_notification_attempts", &waitlist.NotificationAttempt{}},
		{"waitlist_transitions", &waitlist.TransitionRecord{}},
		{"waitlist_slots", &waitlist.AvailableSlot{}},
		{"waitlist_entries", &waitlist.WaitlistEntry{}},
	}

	return s.db.GetSQL().Transaction(func(tx *gorm.DB) error {
		for _, m := range models {
			fmt.Printf("  Deleting rows from: %s\n", m.name)
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m.model).Error; err != nil {
				return fmt.Errorf("failed to clean table %s: %w", m.name, err)
			}
		}
		return nil
	})
}
