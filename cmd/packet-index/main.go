package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ipld/go-packetstore/store"
	"github.com/ipld/go-packetstore/store/index"
)

func main() {
	var (
		dir       string
		indexPath string
		show      bool
		check     bool
		repair    bool
		stats     bool
	)
	flag.StringVar(&dir, "dir", "", "packet store directory")
	flag.StringVar(&indexPath, "index", "", "index file")
	flag.BoolVar(&show, "show", false, "show index entries and exit")
	flag.BoolVar(&check, "check", false, "check index file for partial or decreasing entries")
	flag.BoolVar(&repair, "repair", false, "truncate a partial entry from the end of the index file")
	flag.BoolVar(&stats, "stats", false, "show packet store statistics")
	flag.Parse()

	var err error
	switch {
	case stats:
		if dir == "" {
			fmt.Fprintln(os.Stderr, "missing dir")
			os.Exit(1)
		}
		err = storeStats(dir, os.Stdout)
	case indexPath == "":
		fmt.Fprintln(os.Stderr, "missing index")
		os.Exit(1)
	case show:
		err = showIndex(indexPath, os.Stdout)
	case check:
		err = checkIndex(indexPath, os.Stdout)
	case repair:
		err = repairIndex(indexPath)
	default:
		fmt.Fprintln(os.Stderr, "one of -show, -check, -repair, or -stats is required")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// showIndex prints every entry of an index file without modifying it.
func showIndex(indexPath string, w io.Writer) error {
	file, err := os.Open(indexPath)
	if err != nil {
		return fmt.Errorf("cannot open index file: %w", err)
	}
	defer file.Close()

	iter := index.NewIter(file)
	for {
		pos := iter.Position()
		value, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Fprintf(w, "%d\t%d\n", pos, value)
	}
}

type checkResult struct {
	entries      uint64
	partialBytes int64
	decreasing   []uint64
}

// checkIndex reports whether an index file holds whole entries and whether
// its values never decrease, as is the case for an index of record offsets.
func checkIndex(indexPath string, w io.Writer) error {
	res, err := scanIndex(indexPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "entries:", res.entries)
	if res.partialBytes != 0 {
		fmt.Fprintln(w, "partial entry bytes at end:", res.partialBytes)
	}
	for _, pos := range res.decreasing {
		fmt.Fprintln(w, "value decreases at position", pos)
	}
	if res.partialBytes != 0 || len(res.decreasing) != 0 {
		return fmt.Errorf("index file %s has problems", indexPath)
	}
	fmt.Fprintln(w, "ok")
	return nil
}

func scanIndex(indexPath string) (checkResult, error) {
	file, err := os.Open(indexPath)
	if err != nil {
		return checkResult{}, fmt.Errorf("cannot open index file: %w", err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return checkResult{}, err
	}

	res := checkResult{
		partialBytes: fi.Size() % index.EntrySize,
	}
	var prev uint64
	iter := index.NewIter(file)
	for {
		pos := iter.Position()
		value, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return checkResult{}, err
		}
		if pos != 0 && value < prev {
			res.decreasing = append(res.decreasing, pos)
		}
		prev = value
		res.entries++
	}
	return res, nil
}

// repairIndex opens the index, which truncates any partial entry at its end.
func repairIndex(indexPath string) error {
	if _, err := os.Stat(indexPath); err != nil {
		return err
	}
	idx, err := index.Open(indexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	n, err := idx.Len()
	if err != nil {
		return err
	}
	log.Println("Index", indexPath, "has", n, "entries")
	return nil
}

// storeStats prints statistics about a packet store without modifying it.
func storeStats(dir string, w io.Writer) error {
	stats, err := store.Stat(dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "version:", stats.Header.Version)
	fmt.Fprintln(w, "compressed:", stats.Header.Compress)
	fmt.Fprintln(w, "max file size:", stats.Header.MaxFileSize)
	fmt.Fprintln(w, "packets:", stats.Packets)
	fmt.Fprintln(w, "segments:", stats.Segments)
	fmt.Fprintln(w, "index bytes:", stats.IndexBytes)
	fmt.Fprintln(w, "data bytes:", stats.DataBytes)
	if stats.PartialIndexBytes != 0 {
		fmt.Fprintln(w, "partial index bytes:", stats.PartialIndexBytes)
	}
	return nil
}
