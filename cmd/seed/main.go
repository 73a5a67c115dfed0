package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
)

var departments = []string{
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
	doctorCount := flag.Int("doctors", 50, "number of doctors to create")
	patientCount := flag.Int("patients", 2000, "number of patients to create")
	flag.Parse()

	log.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, *doctorCount); err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, *patientCount); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		department := departments[gofakeit.Number(0, len(departments)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, department, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+gofakeit.Name(), department)
		if err != nil {
			return err
		}

		// Weekday mornings plus three afternoon blocks per doctor.
		for day := 1; day <= 5; day++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_windows (id, doctor_id, day_of_week, start_min, end_min, created_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, uuid.New(), id, day, 540, 720)
			if err != nil {
				return err
			}
		}
		for _, day := range []int{1, 3, 5} {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_windows (id, doctor_id, day_of_week, start_min, end_min, created_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, uuid.New(), id, day, 780, 1020)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}
