// Command track_replay feeds recorded detection batches through a fresh
// tracker and prints entity lifecycles. It is used to tune tracker
// parameters offline against real footage.
package main

import (
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/dj-oyu/vision-hud/internal/config"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/recorder"
	"github.com/dj-oyu/vision-hud/internal/tracker"
)

// lifecycle summarises one entity over a replay.
type lifecycle struct {
	id       int
	label    string
	class    string
	created  uint64 // batch seq
	expired  uint64
	alive    bool
	maxLife  int
	lastLife int
}

func main() {
	fs := pflag.NewFlagSet("track_replay", pflag.ExitOnError)
	config.RegisterFlags(fs)
	seed := fs.Uint64("seed", 1, "Seed for profile linking")
	verbose := fs.BoolP("verbose", "v", false, "Print every create and expire event")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: track_replay [flags] <recording.ndjson>...\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, true)

	for _, path := range fs.Args() {
		if err := replayFile(cfg, path, *seed, *verbose, os.Stdout); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}
}

func replayFile(cfg config.Config, path string, seed uint64, verbose bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	batches, err := recorder.ReadBatches(f)
	if err != nil {
		return err
	}
	logger.Info("Replay", "%s: %d batches", path, len(batches))

	tr, err := tracker.New(cfg.TrackerConfig(), tracker.NewProfileRegistry(cfg.Profiles),
		tracker.WithRand(rand.New(rand.NewPCG(seed, seed>>1))))
	if err != nil {
		return err
	}

	seen := make(map[int]*lifecycle)
	for _, b := range batches {
		tr.Update(b.Candidates, b.Timestamp)

		present := make(map[int]bool)
		for _, e := range tr.Snapshot() {
			present[e.ID] = true
			lc, ok := seen[e.ID]
			if !ok {
				lc = &lifecycle{id: e.ID, label: e.Label, class: e.Class, created: b.Seq, alive: true}
				seen[e.ID] = lc
				if verbose {
					fmt.Fprintf(out, "seq=%d frame=%d created #%d %s (%s)\n", b.Seq, b.FrameNum, e.ID, e.Label, e.Class)
				}
			}
			lc.lastLife = e.Life
			lc.maxLife = max(lc.maxLife, e.Life)
		}
		for id, lc := range seen {
			if lc.alive && !present[id] {
				lc.alive = false
				lc.expired = b.Seq
				if verbose {
					fmt.Fprintf(out, "seq=%d frame=%d expired #%d %s\n", b.Seq, b.FrameNum, id, lc.label)
				}
			}
		}
	}

	return printSummary(out, path, seen)
}

func printSummary(out io.Writer, path string, seen map[int]*lifecycle) error {
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if _, err := fmt.Fprintf(out, "%s: %d entities\n", path, len(ids)); err != nil {
		return err
	}
	for _, id := range ids {
		lc := seen[id]
		end := "alive"
		if !lc.alive {
			end = fmt.Sprintf("expired@%d", lc.expired)
		}
		if _, err := fmt.Fprintf(out, "  #%-4d %-12s %-10s created@%-6d %-14s max_life=%-3d final_life=%d\n",
			lc.id, lc.label, lc.class, lc.created, end, lc.maxLife, lc.lastLife); err != nil {
			return err
		}
	}
	return nil
}
