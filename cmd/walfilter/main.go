// Command walfilter is the standalone §4.L tool: given one or more WAL
// segment files and either an explicit XID list or --delete (derive the
// XID set from HEAP DELETE records in the segment itself), NOOP every
// matching record in place and report how many records were touched.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/leengari/pgward/internal/walfilter"
)

func main() {
	pageSize := flag.Int("page-size", 8192, "PostgreSQL page size in bytes")
	segSize := flag.Int("segment-size", 16<<20, "WAL segment size in bytes")
	xidList := flag.String("xids", "", "comma-separated list of XIDs to NOOP")
	deleteMode := flag.Bool("delete", false, "derive the XID set from HEAP DELETE records in each segment")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: walfilter [-xids=1,2,3 | -delete] [-page-size=8192] [-segment-size=16777216] segment...")
		os.Exit(2)
	}
	if *xidList == "" && !*deleteMode {
		fmt.Fprintln(os.Stderr, "walfilter: one of -xids or -delete is required")
		os.Exit(2)
	}

	var status int
	for _, path := range paths {
		var (
			res walfilter.Result
			err error
		)
		switch {
		case *deleteMode:
			res, err = walfilter.DeleteFilterFile(path, *pageSize, *segSize)
		default:
			ids, perr := parseXIDs(*xidList)
			if perr != nil {
				fmt.Fprintf(os.Stderr, "walfilter: %v\n", perr)
				os.Exit(2)
			}
			res, err = walfilter.FilterFile(path, *pageSize, *segSize, walfilter.XIDSet(ids))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "walfilter: %s: %v\n", path, err)
			status = 1
			continue
		}
		fmt.Printf("%s: %d/%d records filtered\n", path, res.RecordsFiltered, res.RecordsSeen)
	}
	os.Exit(status)
}

func parseXIDs(list string) (map[uint32]bool, error) {
	ids := make(map[uint32]bool)
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid xid %q: %w", s, err)
		}
		ids[uint32(n)] = true
	}
	return ids, nil
}
