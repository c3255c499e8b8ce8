// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-sql inspects the STS condition database.
package main // import "github.com/go-lpc/sts/cmd/sts-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/go-lpc/sts/conddb"
	"github.com/go-lpc/sts/stsxyter"
)

const (
	dbname = "stsdb"
)

func main() {
	log.SetPrefix("sts-sql: ")
	log.SetFlags(0)

	var (
		name  = flag.String("db", dbname, "name of the condition database")
		setup = flag.String("setup", "", "setup to inspect (default: last setup)")
		eqid  = flag.Int("eqid", -1, "equipment id to inspect (default: all components)")
	)

	flag.Parse()

	db, err := conddb.Open(*name)
	if err != nil {
		log.Fatalf("could not open STS db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *setup, *eqid)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db *conddb.DB, setup string, eqid int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if setup == "" {
		v, err := db.LastSetup(ctx)
		if err != nil {
			return fmt.Errorf("could not get last setup: %w", err)
		}
		setup = v
	}
	log.Printf("setup: %q", setup)

	run, err := db.LastRun(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run: %w", err)
	}
	log.Printf("last run: %d", run)

	var comps map[uint16][]stsxyter.ElinkCalib
	switch {
	case eqid >= 0:
		elinks, err := db.ElinkConfig(ctx, setup, uint16(eqid))
		if err != nil {
			return fmt.Errorf("could not get elink cfg (setup=%q, eqid=0x%04x): %w",
				setup, uint16(eqid), err,
			)
		}
		comps = map[uint16][]stsxyter.ElinkCalib{uint16(eqid): elinks}
	default:
		comps, err = db.Components(ctx, setup)
		if err != nil {
			return fmt.Errorf("could not get components (setup=%q): %w", setup, err)
		}
	}

	dump(w, comps)
	return nil
}

func dump(w io.Writer, comps map[uint16][]stsxyter.ElinkCalib) {
	ids := make([]uint16, 0, len(comps))
	for id := range comps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		elinks := comps[id]
		fmt.Fprintf(w, ">>> eqid=0x%04x, elinks=%d\n", id, len(elinks))
		for i, link := range elinks {
			masked := 0
			for _, v := range link.Masked {
				if v {
					masked++
				}
			}
			switch len(link.Addresses) {
			case 0:
				fmt.Fprintf(w, "  elink=%03d offset=%dns channels=0 masked=%d\n",
					i, link.TimeOffset, masked,
				)
			default:
				fmt.Fprintf(w, "  elink=%03d offset=%dns channels=%d masked=%d addr=[0x%08x, 0x%08x]\n",
					i, link.TimeOffset, len(link.Addresses), masked,
					link.Addresses[0], link.Addresses[len(link.Addresses)-1],
				)
			}
		}
	}
}
