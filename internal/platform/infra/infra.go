// Package infra opens the optional backing services named in the
// configuration. A service left unconfigured stays nil and callers fall back
// to the in-process implementation.
package infra

import (
	"context"
	"errors"

	"github.com/vishalp-65/patient-case-notes-system/internal/contentstore"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/config"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/kafka"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/postgres"
	"github.com/vishalp-65/patient-case-notes-system/internal/platform/readiness"
	platformredis "github.com/vishalp-65/patient-case-notes-system/internal/platform/redis"
)

type Infra struct {
	DB       *postgres.DB
	Redis    *platformredis.Client
	Producer *kafka.Producer
	S3       *contentstore.S3Store
}

// Open connects every configured service. On error the services opened so
// far are returned so the caller can close them.
func Open(ctx context.Context, cfg config.Config) (*Infra, error) {
	in := &Infra{}
	var err error
	if in.DB, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		return in, err
	}
	if in.Redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		return in, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if in.Producer, err = kafka.NewProducer(cfg.Kafka.Brokers); err != nil {
			return in, err
		}
	}
	if in.S3, err = contentstore.NewS3(ctx, cfg.S3); err != nil {
		return in, err
	}
	return in, nil
}

// Pingables lists the opened services only.
func (in *Infra) Pingables() []readiness.Pingable {
	var checks []readiness.Pingable
	if in.DB != nil {
		checks = append(checks, in.DB)
	}
	if in.Redis != nil {
		checks = append(checks, in.Redis)
	}
	if in.Producer != nil {
		checks = append(checks, in.Producer)
	}
	if in.S3 != nil {
		checks = append(checks, in.S3)
	}
	return checks
}

func (in *Infra) Close() error {
	var errs []error
	if in.Producer != nil {
		in.Producer.Close()
	}
	if in.Redis != nil {
		errs = append(errs, in.Redis.Close())
	}
	if in.DB != nil {
		errs = append(errs, in.DB.Close())
	}
	return errors.Join(errs...)
}
