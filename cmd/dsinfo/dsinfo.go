// Command dsinfo describes a dataset file, prints some of its rows, and can
// export its arrays as numpy .npy files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/usnistgov/featurestore/dataset"
	"gonum.org/v1/gonum/mat"
)

func describe(r *dataset.Reader, name string) {
	h := r.Header()
	fmt.Printf("%s: %s version %s, id %s\n", name, h.FileFormat, h.FileFormatVersion, h.DatasetID)
	fmt.Printf("Created %v by version %s (git %s) from %s\n", h.CreationInfo.CreationTime,
		h.CreationInfo.Version, h.CreationInfo.GitHash, h.CreationInfo.Source)
	for _, a := range h.Arrays {
		fmt.Printf("  %-12s %s shape %v at byte %d\n", a.Name, a.DType, a.Shape, a.Offset)
	}
	if r.Finalized() {
		fmt.Printf("%d of %d rows written.\n", r.RowsWritten(), r.Rows())
	} else {
		fmt.Printf("Writer never closed this file; rows written unknown.\n")
	}
}

func dumprows(r *dataset.Reader, nrows int) error {
	nrows = min(nrows, r.Rows())
	if nrows <= 0 {
		return nil
	}
	features, labels, err := r.ReadRange(0, nrows)
	if err != nil {
		return err
	}
	for i := 0; i < nrows; i++ {
		row := mat.Row(nil, i, features)
		if len(row) > 6 {
			fmt.Printf("%5d label %4d  %.4g ... (%d values)\n", i, labels[i], row[:6], len(row))
		} else {
			fmt.Printf("%5d label %4d  %.4g\n", i, labels[i], row)
		}
	}
	return nil
}

func run(name string, dump bool, nrows int, exportDir string) error {
	r, err := dataset.Open(name)
	if err != nil {
		return err
	}
	defer r.Close()

	describe(r, name)
	if dump {
		spew.Dump(r.Header())
	}
	if err := dumprows(r, nrows); err != nil {
		return err
	}
	if exportDir != "" {
		pfile, lfile, err := r.ExportNPY(exportDir)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s and %s\n", pfile, lfile)
	}
	return nil
}

func main() {
	dump := flag.Bool("dump", false, "dump the full parsed header")
	nrows := flag.Int("rows", 5, "number of rows to print")
	exportDir := flag.String("export", "", "directory in which to write the arrays as .npy files")
	flag.Usage = func() {
		fmt.Println("dsinfo, describe a feature dataset file")
		fmt.Println("Usage: dsinfo [flags] file.ds ...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	status := 0
	for _, name := range flag.Args() {
		if err := run(name, *dump, *nrows, *exportDir); err != nil {
			fmt.Fprintf(os.Stderr, "dsinfo: %v\n", err)
			status = 1
		}
	}
	os.Exit(status)
}
