// Command seed creates the users and a poster needed to try the API
// locally.  It is safe to run repeatedly: existing users are skipped.
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/poster-tracker/internal/config"
	"github.com/iliyamo/poster-tracker/internal/database"
	"github.com/iliyamo/poster-tracker/internal/model"
	"github.com/iliyamo/poster-tracker/internal/repository"
)

func main() {
	password := flag.String("password", "changeme", "password for every seeded user")
	poster := flag.String("poster", "Summer concert", "title of the seeded poster")
	flag.Parse()

	log := logrus.New()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	db, err := database.Open(context.Background(), cfg.Database())
	if err != nil {
		log.WithError(err).Fatal("database connect")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("database migrate")
	}

	users := repository.NewUserRepo(db)
	seed := []struct{ name, email, role string }{
		{"Admin", "admin@example.com", model.RoleAdmin},
		{"Alice", "alice@example.com", model.RoleMember},
		{"Bob", "bob@example.com", model.RoleMember},
	}
	for _, s := range seed {
		id, err := users.Create(ctx, s.name, s.email, *password, s.role, cfg.BcryptCost)
		switch {
		case errors.Is(err, repository.ErrEmailExists):
			log.WithField("email", s.email).Info("user exists; skipped")
		case err != nil:
			log.WithError(err).WithField("email", s.email).Fatal("create user")
		default:
			log.WithFields(logrus.Fields{"id": id, "email": s.email, "role": s.role}).Info("user created")
		}
	}

	p, err := repository.NewPosterRepo(db).Create(ctx, *poster)
	if err != nil {
		log.WithError(err).Fatal("create poster")
	}
	log.WithFields(logrus.Fields{"id": p.ID, "title": p.Title}).Info("poster created")
}
