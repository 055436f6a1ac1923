// Command ecgmon reads one integer ECG sample per line (from a file
// argument or stdin) and prints the position and classification of
// each beat detected by pkg/ecg/bdac.
//
// This is the thin external driver spec.md ss1 permits -- file I/O
// confined to the one package the spec says may own it -- not the
// out-of-scope factory/assembler; bdac.New is the real constructor,
// this CLI only drives stdin the way cmd/app/main.go drives a
// directory argument.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/nzoschke/ecganalyzer/pkg/ecg/bdac"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ecgmon [file]",
	Short: "Stream one ECG sample per line and report detected beats",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detHz, _ := cmd.Flags().GetInt("rate")
		beatHz, _ := cmd.Flags().GetInt("beat-rate")
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return run(path, detHz, beatHz)
	},
}

func init() {
	rootCmd.Flags().Int("rate", 200, "detection sample rate in Hz")
	rootCmd.Flags().Int("beat-rate", 0, "beat-analysis sample rate in Hz (0 defaults to rate/2)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, detHz, beatHz int) error {
	in := os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	analyzer := bdac.New(detHz, beatHz)
	scanner := bufio.NewScanner(in)

	n := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sample, err := strconv.Atoi(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n+1, err)
		}
		n++

		result := analyzer.Analyze(sample)
		if result.IsBeat() {
			fmt.Printf("%d\tsamplesSinceRWave=%d\tbeatType=%d\tbeatMatch=%d\n",
				n, result.SamplesSinceRWave, result.BeatType, result.BeatMatch)
		}
	}
	return scanner.Err()
}
