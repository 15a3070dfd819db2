package main

import (
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/writer"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	flaggedOnly := flag.Bool("flagged", false, "Only print flows classified as attacks")
	features := flag.Bool("features", false, "Print the feature vector of every flow")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/gobana [-flagged] [-features] <verdicts.dat>")
		os.Exit(1)
	}

	verdicts, err := writer.ReadVerdicts(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to decode gob data: %v", err)
	}

	shown := 0
	for i := range verdicts {
		v := &verdicts[i]
		if *flaggedOnly && !v.Flagged() {
			continue
		}
		label := "unclassified"
		if v.Classified {
			label = fmt.Sprintf("%g", v.Label)
		}
		fmt.Printf("%s  %s .. %s  label=%s\n", v.FlowID,
			v.FirstSeen.Format("15:04:05.000000"), v.LastSeen.Format("15:04:05.000000"), label)
		if *features {
			fmt.Printf("    %v\n", v.Features)
		}
		shown++
	}
	fmt.Printf("%d of %d flows shown (batch %s)\n", shown, len(verdicts), batchOf(verdicts))
}

func batchOf(verdicts []model.Verdict) string {
	if len(verdicts) == 0 {
		return "-"
	}
	return verdicts[0].BatchID
}
