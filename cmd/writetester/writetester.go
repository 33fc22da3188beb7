// Command writetester measures dataset write throughput using synthetic
// feature vectors.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/usnistgov/featurestore"
)

func main() {
	dirname := flag.String("dir", os.TempDir(), "directory for the test dataset")
	rows := flag.Int("rows", 10000, "number of feature vectors")
	dim := flag.Int("dim", 512*7*7, "feature vector length")
	batch := flag.Int("batch", 32, "rows per batch")
	buffer := flag.Int("buffer", 1000, "rows staged before each write")
	keep := flag.Bool("keep", false, "keep the dataset file afterwards")
	flag.Parse()

	cfg := featurestore.Config{
		Output:     filepath.Join(*dirname, fmt.Sprintf("writetester_%d.ds", time.Now().UnixNano())),
		BatchSize:  *batch,
		BufferSize: *buffer,
	}
	featurestore.UpdateLogger = log.New(os.Stdout, "", log.Ltime|log.Lmicroseconds)

	megabytes := float64(*rows) * float64(*dim+1) * 8 * 1e-6
	fmt.Printf("rows %v, dim %v, batch %v, buffer %v: %.1f MB to %s\n",
		*rows, *dim, *batch, *buffer, megabytes, cfg.Output)

	src := featurestore.NewSimulatedSource(*rows, *dim, 10, 1.0, time.Now().UnixNano())
	summary, err := featurestore.Extract(src, cfg)
	if !*keep {
		os.Remove(cfg.Output)
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%v: %.1f MB/s including feature synthesis\n", summary, megabytes/summary.Duration.Seconds())
}
