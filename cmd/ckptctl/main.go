// ckptctl inspects and resets stored parser checkpoints. Deleting a
// checkpoint forces the next cycle of that parser kind into a cold start.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/arkadian-hale/deadside-ingest/internal/checkpoint"
	"github.com/arkadian-hale/deadside-ingest/internal/domain"
)

func main() {
	dbPath := flag.String("db", "data/checkpoints.db", "path to the checkpoint database")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	store, err := checkpoint.NewBoltDBStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	switch flag.Arg(0) {
	case "list":
		err = list(ctx, store)
	case "reset":
		if flag.NArg() != 4 {
			usage()
			os.Exit(2)
		}
		err = reset(ctx, store, flag.Arg(1), flag.Arg(2), flag.Arg(3))
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  ckptctl [-db path] list
  ckptctl [-db path] reset <guild_id> <server_id> <kind>

Kinds: historical, killfeed, unified
`)
}

func list(ctx context.Context, store checkpoint.Store) error {
	cps, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		fmt.Println("no checkpoints stored")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GUILD\tSERVER\tKIND\tFILE\tLINE\tOFFSET\tLAST EVENT")
	for _, cp := range cps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			cp.GuildID, cp.ServerID, cp.ParserKind,
			cp.LastFile, cp.LastLine, cp.LastByteOffset,
			cp.LastEventTimestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func reset(ctx context.Context, store checkpoint.Store, guildID, serverID, kindArg string) error {
	kind := domain.ParserKind(kindArg)
	if !kind.Valid() {
		return fmt.Errorf("unknown parser kind %q", kindArg)
	}
	if err := store.Delete(ctx, guildID, serverID, kind); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	fmt.Printf("checkpoint %s:%s:%s deleted; next cycle will cold start\n", guildID, serverID, kind)
	return nil
}
