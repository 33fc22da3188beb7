// Command featurestore packs precomputed feature vectors and labels, stored
// as numpy .npy files by the inference step, into a dataset file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/spf13/viper"
	"github.com/usnistgov/featurestore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}

	// Create an empty file dir/filename, if it doesn't exist.
	fullname := filepath.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper tells viper where to find the config file and reads it.
func setupViper() error {
	featurestore.SetDefaults(viper.GetViper())

	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(filepath.Join("$HOME", ".featurestore"), filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/featurestore"))
	viper.AddConfigPath("$HOME/.featurestore")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return logger
}

func main() {
	featurestore.Build.Date = strings.Replace(buildDate, ".", " ", -1)
	featurestore.Build.Githash = githash
	featurestore.Build.Summary = fmt.Sprintf("featurestore version %s (git commit %s)", featurestore.Build.Version, githash)

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	featuresFile := flag.String("features", "", "input .npy file of float64 features, shape (N, D)")
	labelsFile := flag.String("labels", "", "input .npy file of int64 labels, shape (N,)")
	flag.String("output", "", "output dataset file (must not exist)")
	flag.Int("batch", 32, "rows read from the input per batch")
	flag.Int("buffer", 1000, "rows staged in memory before each write")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is featurestore version %s\n", featurestore.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", featurestore.Build.Date)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}
	if *featuresFile == "" || *labelsFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	logdir := filepath.Join("$HOME", ".featurestore", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		log.Fatal(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		log.Fatal(err)
	}
	featurestore.ProblemLogger = startLogger(problemname)
	featurestore.UpdateLogger = startLogger(logname)
	featurestore.UpdateLogger.Printf("\n\n%s", featurestore.Build.Summary)

	if err := setupViper(); err != nil {
		log.Fatal(err)
	}
	// Flags given on the command line override the config file.
	flagKeys := map[string]string{"output": "Output", "batch": "BatchSize", "buffer": "BufferSize"}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			viper.Set(key, f.Value.String())
		}
	})
	cfg, err := featurestore.LoadConfig(viper.GetViper())
	if err != nil {
		log.Fatal(err)
	}

	src, err := featurestore.OpenNPYSource(*featuresFile, *labelsFile)
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()
	fmt.Printf("Packing %d feature vectors of length %d into %s\n", src.Len(), src.Dim(), cfg.Output)

	summary, err := featurestore.Extract(src, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "featurestore: %v\n", err)
		src.Close()
		pprof.StopCPUProfile()
		os.Exit(1)
	}
	fmt.Println(summary)
}
