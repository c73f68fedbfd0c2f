// Command enclavert drives the boundary layer directly: it opens a
// code cache, stores a contract, and runs one lifecycle entry against
// an in-memory store. Useful for poking at contracts without a host
// process.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	enclavert "github.com/wippyai/enclave-rt"
	"github.com/wippyai/enclave-rt/bridge"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
)

func main() {
	var (
		wasmFile = flag.String("wasm", "", "Path to contract wasm file")
		dataDir  = flag.String("data", "", "Cache data directory (default: temporary)")
		features = flag.String("features", "", "Supported features (comma-separated)")
		entry    = flag.String("entry", "init", "Entry to call: init, handle, migrate, query")
		params   = flag.String("params", "{}", "Call params JSON (ignored for query)")
		msg      = flag.String("msg", "{}", "Call message JSON")
		gasLimit = flag.Uint64("gas", 1_000_000, "Gas limit for the call")
		verbose  = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: enclavert -wasm <file.wasm> [-entry init|handle|migrate|query] [-msg JSON]")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		enclavert.SetLogger(log)
	}

	if err := run(*wasmFile, *dataDir, *features, *entry, *params, *msg, *gasLimit); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func run(wasmFile, dataDir, features, entry, params, msg string, gasLimit uint64) error {
	wasm, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read contract: %w", err)
	}

	if dataDir == "" {
		dataDir, err = os.MkdirTemp("", "enclavert-*")
		if err != nil {
			return fmt.Errorf("temp dir: %w", err)
		}
		defer os.RemoveAll(dataDir)
	}

	var errOut enclavert.Buffer
	h := enclavert.InitCache(
		enclavert.BorrowedBuffer([]byte(dataDir)),
		enclavert.BorrowedBuffer([]byte(features)),
		100, &errOut)
	if h == 0 {
		return boundaryError("init cache", errOut)
	}
	defer enclavert.ReleaseCache(h)

	checksum := enclavert.Create(h, enclavert.BorrowedBuffer(wasm), &errOut)
	sum, ok := checksum.Read()
	if !ok {
		return boundaryError("store contract", errOut)
	}
	defer enclavert.FreeBuffer(&checksum)

	fmt.Println(titleStyle.Render("enclavert"))
	fmt.Printf("%s %s\n", labelStyle.Render("Contract:"), wasmFile)
	fmt.Printf("%s %x\n", labelStyle.Render("Checksum:"), sum)

	store := bridge.NewMemDB()
	db := store.Bridge(nil)

	var gasUsed uint64
	var result enclavert.Buffer
	switch strings.ToLower(entry) {
	case "init":
		result = enclavert.Instantiate(h, checksum,
			enclavert.BorrowedBuffer([]byte(params)), enclavert.BorrowedBuffer([]byte(msg)),
			db, bridge.API{}, bridge.Querier{}, gasLimit, &gasUsed, &errOut)
	case "handle":
		result = enclavert.Handle(h, checksum,
			enclavert.BorrowedBuffer([]byte(params)), enclavert.BorrowedBuffer([]byte(msg)),
			db, bridge.API{}, bridge.Querier{}, gasLimit, &gasUsed, &errOut)
	case "migrate":
		result = enclavert.Migrate(h, checksum,
			enclavert.BorrowedBuffer([]byte(params)), enclavert.BorrowedBuffer([]byte(msg)),
			db, bridge.API{}, bridge.Querier{}, gasLimit, &gasUsed, &errOut)
	case "query":
		result = enclavert.Query(h, checksum,
			enclavert.BorrowedBuffer([]byte(msg)),
			db, bridge.API{}, bridge.Querier{}, gasLimit, &gasUsed, &errOut)
	default:
		return fmt.Errorf("unknown entry %q", entry)
	}
	defer enclavert.FreeBuffer(&result)

	fmt.Printf("%s %d / %d\n", labelStyle.Render("Gas used:"), gasUsed, gasLimit)
	data, ok := result.Read()
	if !ok {
		return boundaryError(entry, errOut)
	}
	fmt.Println(okStyle.Render("Result:"), string(data))
	return nil
}

func boundaryError(op string, errOut enclavert.Buffer) error {
	defer enclavert.FreeBuffer(&errOut)
	if data, ok := errOut.Read(); ok {
		return fmt.Errorf("%s: %s", op, data)
	}
	return fmt.Errorf("%s failed", op)
}
