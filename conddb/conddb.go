// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database for the STS detector.
package conddb // import "github.com/go-lpc/sts/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-lpc/sts/stsxyter"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"

	// maxElinks is the number of elinks addressable by the legacy
	// firmware link field.
	maxElinks = 1 << 9
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve conditions data
// and configuration data from the STS database.
type DB struct {
	db   *sql.DB
	name string // name of the STS database
}

// Open opens a connection to the STS database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastSetup returns the name of the most recently registered setup.
func (db *DB) LastSetup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	setup := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM sts_setups ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return setup, fmt.Errorf("conddb: could not query setup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&setup)
		if err != nil {
			return setup, fmt.Errorf("conddb: could not get setup value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return setup, fmt.Errorf("conddb: could not scan db for setup: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return setup, fmt.Errorf("conddb: context error while retrieving setup: %w", err)
	}

	return setup, nil
}

// LastRun returns the most recent run number recorded in the run summaries.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM sts_runs ORDER BY run DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("conddb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("conddb: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("conddb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("conddb: context error while retrieving last run: %w", err)
	}

	return run, nil
}

const elinkQuery = `
SELECT sts_elinks.eqid, sts_elinks.elink, sts_elinks.time_offset,
       sts_channels.channel, sts_channels.address, sts_channels.masked
FROM sts_channels
JOIN sts_elinks ON sts_elinks.identifier=sts_channels.elink_id
WHERE (
	%s
)
ORDER BY sts_elinks.eqid, sts_elinks.elink, sts_channels.channel
`

// ElinkConfig returns the elink calibration table of the component eqid
// for the given setup.
// Elinks without any channel row have an empty address table.
func (db *DB) ElinkConfig(ctx context.Context, setup string, eqid uint16) ([]stsxyter.ElinkCalib, error) {
	comps, err := db.components(
		ctx, "sts_elinks.setup=? AND sts_elinks.eqid=?",
		setup, eqid,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not retrieve elink cfg (setup=%q, eqid=0x%04x): %w", setup, eqid, err)
	}

	elinks, ok := comps[eqid]
	if !ok {
		return nil, fmt.Errorf("conddb: no elink cfg for setup=%q, eqid=0x%04x", setup, eqid)
	}
	return elinks, nil
}

// Components returns the elink calibration tables of all the components
// of the given setup, indexed by equipment id.
func (db *DB) Components(ctx context.Context, setup string) (map[uint16][]stsxyter.ElinkCalib, error) {
	comps, err := db.components(ctx, "sts_elinks.setup=?", setup)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not retrieve components (setup=%q): %w", setup, err)
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("conddb: no components for setup=%q", setup)
	}
	return comps, nil
}

func (db *DB) components(ctx context.Context, where string, args ...interface{}) (map[uint16][]stsxyter.ElinkCalib, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	comps := make(map[uint16][]stsxyter.ElinkCalib)
	rows, err := db.db.QueryContext(ctx, fmt.Sprintf(elinkQuery, where), args...)
	if err != nil {
		return nil, fmt.Errorf("could not run elink cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var (
			eqid   uint16
			elink  uint32
			offset int64
			ch     uint32
			addr   uint32
			masked bool
		)
		err = rows.Scan(&eqid, &elink, &offset, &ch, &addr, &masked)
		if err != nil {
			return nil, fmt.Errorf("could not scan row %d for elink cfg: %w", i, err)
		}
		i++

		switch {
		case elink >= maxElinks:
			return nil, fmt.Errorf("invalid elink %d for eqid=0x%04x", elink, eqid)
		case ch >= stsxyter.NumChannels:
			return nil, fmt.Errorf("invalid channel %d for eqid=0x%04x, elink %d", ch, eqid, elink)
		}

		elinks := comps[eqid]
		if n := int(elink) + 1; len(elinks) < n {
			elinks = append(elinks, make([]stsxyter.ElinkCalib, n-len(elinks))...)
		}
		link := &elinks[elink]
		if link.Addresses == nil {
			link.Addresses = make([]uint32, stsxyter.NumChannels)
		}
		link.TimeOffset = offset
		link.Addresses[ch] = addr
		if masked {
			if link.Masked == nil {
				link.Masked = make([]bool, stsxyter.NumChannels)
			}
			link.Masked[ch] = true
		}
		comps[eqid] = elinks
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not scan db for elink cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error while retrieving elink cfg: %w", err)
	}

	return comps, nil
}

// RunSummary is the record of the unpacking of a run.
type RunSummary struct {
	Run         uint32
	Setup       string
	Timeslices  uint64
	Microslices uint64
	Hits        uint64
	Errors      stsxyter.ErrorCounters
	Monitor     stsxyter.Monitor
}

// InsertRunSummary stores the summary of a run.
func (db *DB) InsertRunSummary(ctx context.Context, sum RunSummary) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		cols = []string{"run", "setup", "timeslices", "microslices", "hits"}
		args = []interface{}{
			int64(sum.Run), sum.Setup,
			int64(sum.Timeslices), int64(sum.Microslices), int64(sum.Hits),
		}
	)
	sum.Errors.Each(func(name string, n uint64) {
		cols = append(cols, "err_"+name)
		args = append(args, int64(n))
	})
	cols = append(cols, "missed_events", "end_of_ms_errors", "masked")
	args = append(args,
		int64(sum.Monitor.MissedEvents),
		int64(sum.Monitor.EndOfMsErrors),
		int64(sum.Monitor.Masked),
	)

	query := fmt.Sprintf(
		"INSERT INTO sts_runs (%s) VALUES (%s)",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	_, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("conddb: could not insert summary of run %d: %w", sum.Run, err)
	}

	return nil
}
