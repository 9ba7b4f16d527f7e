package database

import "github.com/gabriel/chapter-tracker/migrations"

var embeddedMigrations = migrations.Files
