package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/darkodi/snaplink/internal/client"
	"github.com/darkodi/snaplink/internal/fingerprint"
)

const usage = "usage: snaplink <shorten|list|get|whoami> [flags]"

func main() {
	cache := fingerprint.Cache(fingerprint.NewMemoryCache())
	if path, err := fingerprint.DefaultCachePath(); err == nil {
		cache = fingerprint.NewFileCache(path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, cache); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, cache fingerprint.Cache) error {
	if len(args) < 1 {
		return errors.New(usage)
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(out)
	server := fs.String("server", envOr("SNAPLINK_URL", "http://localhost:8080"), "snaplink server base URL")

	var rawURL, shortID *string
	switch args[0] {
	case "shorten":
		rawURL = fs.String("url", "", "URL to shorten")
	case "get":
		shortID = fs.String("id", "", "short id to look up")
	case "list", "whoami":
	default:
		return errors.New(usage)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	c := client.New(*server, fingerprint.GetOrCreate(cache, fingerprint.DefaultSignals()), nil)

	switch args[0] {
	case "whoami":
		fmt.Fprintln(out, c.MachineID())

	case "shorten":
		if *rawURL == "" && fs.NArg() > 0 {
			*rawURL = fs.Arg(0)
		}
		if *rawURL == "" {
			fs.PrintDefaults()
			return errors.New("a URL is required")
		}
		link, err := c.Shorten(ctx, *rawURL)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, c.ShortURL(link.ShortID))

	case "get":
		if *shortID == "" {
			fs.PrintDefaults()
			return errors.New("a short id is required")
		}
		link, err := c.Get(ctx, *shortID)
		if err != nil {
			return err
		}
		last := "never"
		if link.LastVisited != nil {
			last = link.LastVisited.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s -> %s\nvisits: %d\ncreated: %s\nlast visited: %s\n",
			c.ShortURL(link.ShortID), link.OriginalURL, link.VisitCount,
			link.CreatedAt.Format(time.RFC3339), last)

	case "list":
		links, err := c.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SHORT URL\tVISITS\tORIGINAL")
		for _, l := range links {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", c.ShortURL(l.ShortID), l.VisitCount, l.OriginalURL)
		}
		return tw.Flush()
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
