package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/app"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/logging"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors to create")
	days := flag.Int("days", 5, "days of slots to open per doctor, starting tomorrow")
	duration := flag.Int("duration", 30, "slot length in minutes")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		panic("seed writes to a shared store; STORE_DRIVER=memory would be discarded on exit")
	}

	logger := logging.Must(cfg.Env, cfg.LogLevel).Named("seed")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg.RedisEnabled = false
	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer infra.Close()

	svc := appointment.NewService(infra.Repo, nil, cfg, logger, nil)

	ids, err := seedDoctors(ctx, svc, logger, *doctors)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}

	slots, err := seedSlots(ctx, svc, ids, *days, *duration)
	if err != nil {
		logger.Fatal("seed slots", zap.Error(err))
	}

	logger.Info("seed complete", zap.Int("doctors", len(ids)), zap.Int("slots", slots))
}

func seedDoctors(ctx context.Context, svc *appointment.Service, logger *zap.Logger, count int) ([]appointment.Doctor, error) {
	logger.Info("seeding doctors", zap.Int("count", count))

	var out []appointment.Doctor
	for len(out) < count {
		phone := gofakeit.Phone()
		d, err := svc.CreateDoctor(ctx, appointment.DoctorInput{
			Name:           "Dr. " + gofakeit.Name(),
			Specialization: specializations[gofakeit.Number(0, len(specializations)-1)],
			Email:          gofakeit.Email(),
			Phone:          &phone,
		})
		if errors.Is(err, appointment.ErrDuplicateDoctor) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// seedSlots opens a 09:00-17:00 day for every doctor. Days that already hold
// slots are skipped, so the command can be rerun.
func seedSlots(ctx context.Context, svc *appointment.Service, doctors []appointment.Doctor, days, duration int) (int, error) {
	start := appointment.NewTimeOfDay(9, 0)
	end := appointment.NewTimeOfDay(17, 0)
	first := appointment.DateOf(time.Now().UTC()).AddDate(0, 0, 1)

	total := 0
	for _, d := range doctors {
		for day := 0; day < days; day++ {
			created, err := svc.CreateBulkSlots(ctx, appointment.BulkSlotInput{
				DoctorID:        d.ID,
				SlotDate:        first.AddDate(0, 0, day),
				StartTime:       start,
				EndTime:         end,
				DurationMinutes: duration,
			})
			var dup *appointment.DuplicateSlotError
			if errors.As(err, &dup) {
				continue
			}
			if err != nil {
				return total, err
			}
			total += len(created)
		}
	}
	return total, nil
}
