package database

import (
	"errors"
	"testing"

	"wacrm/state"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

func TestDialectorForSqliteDefaultURL(t *testing.T) {
	cfg := &state.Config{}
	cfg.SetDefaults()

	d, err := dialectorFor(cfg.Database)
	if err != nil {
		t.Fatalf("dialectorFor: %v", err)
	}
	sq, ok := d.(*sqlite.Dialector)
	if !ok {
		t.Fatalf("dialector = %T, want sqlite", d)
	}
	if sq.DSN != state.DefaultDatabaseURL {
		t.Errorf("dsn = %q, want %q", sq.DSN, state.DefaultDatabaseURL)
	}
}

func TestDialectorForDiscreteFields(t *testing.T) {
	cfg := &state.Config{}
	cfg.SetDefaults()
	cfg.Database["type"] = "postgres"
	cfg.Database["host"] = "db.internal"
	cfg.Database["user"] = "crm"
	cfg.Database["dbname"] = "crm"

	d, err := dialectorFor(cfg.Database)
	if err != nil {
		t.Fatalf("dialectorFor: %v", err)
	}
	pg, ok := d.(*postgres.Dialector)
	if !ok {
		t.Fatalf("dialector = %T, want postgres", d)
	}
	want := "host=db.internal user=crm password= dbname=crm port=5432 sslmode=disable TimeZone=UTC"
	if pg.DSN != want {
		t.Errorf("dsn = %q, want %q", pg.DSN, want)
	}

	cfg.Database["type"] = "mysql"
	d, err = dialectorFor(cfg.Database)
	if err != nil {
		t.Fatalf("dialectorFor: %v", err)
	}
	my, ok := d.(*mysql.Dialector)
	if !ok {
		t.Fatalf("dialector = %T, want mysql", d)
	}
	if want := "crm:@tcp(db.internal:3306)/crm?charset=utf8mb4&parseTime=True&loc=UTC"; my.DSN != want {
		t.Errorf("dsn = %q, want %q", my.DSN, want)
	}
}

func TestDialectorForUnknownType(t *testing.T) {
	_, err := dialectorFor(map[string]string{"type": "oracle"})
	if !errors.Is(err, ErrUnsupportedDatabase) {
		t.Errorf("err = %v, want ErrUnsupportedDatabase", err)
	}
}
