// Command dispatcher-cli is an interactive operator console for smoke
// testing a dispatcher.Worker in isolation: submit one envelope, read the
// queue size, close the worker, or quit. It talks to an in-process worker
// only — it is not a network client and exposes no protocol of its own.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pivox/tradingV3/internal/config"
	"github.com/pivox/tradingV3/internal/dispatcher"
	"github.com/pivox/tradingV3/internal/httpactivity"
	"github.com/pivox/tradingV3/internal/priority"
)

func main() {
	var envFile string

	root := &cobra.Command{
		Use:   "dispatcher-cli",
		Short: "Interactive smoke-test console for a dispatcher.Worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu(envFile)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "optional .env file to load before reading the environment")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMenu(envFile string) error {
	cfg := config.Load(envFile)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	store := dispatcher.NewFileCheckpointStore(cfg.Dispatcher.CheckpointPath)
	name := cfg.Dispatcher.Name + "-cli"
	worker := dispatcher.New(name, store, httpactivity.Dispatch, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("dispatcher-cli — worker:", name)
	for {
		printMenu()
		if !scanner.Scan() {
			break
		}
		choice := strings.TrimSpace(scanner.Text())
		switch choice {
		case "1":
			submitOne(scanner, worker)
		case "2":
			fmt.Println("queue size:", worker.QueueSize())
		case "3":
			fmt.Println("closing worker, waiting for queue to drain...")
			worker.Close()
			<-worker.Done()
			fmt.Println("worker closed")
			return nil
		case "4", "q", "quit":
			cancel()
			return nil
		default:
			fmt.Println("unrecognized choice:", choice)
		}
	}
	return nil
}

func printMenu() {
	fmt.Println()
	fmt.Println("1) submit one envelope")
	fmt.Println("2) read queue size")
	fmt.Println("3) close worker (drain and stop)")
	fmt.Println("4) quit")
	fmt.Print("> ")
}

func submitOne(scanner *bufio.Scanner, worker *dispatcher.Worker) {
	fmt.Print("bucket (e.g. regular): ")
	if !scanner.Scan() {
		return
	}
	bucket := priority.Bucket(strings.TrimSpace(scanner.Text()))

	fmt.Print("url_callback: ")
	if !scanner.Scan() {
		return
	}
	urlCallback := strings.TrimSpace(scanner.Text())

	envelope := map[string]any{
		"url_callback": urlCallback,
		"method":       "POST",
		"params": map[string]any{
			"submission_id": uuid.NewString(),
		},
	}

	err := worker.Submit(map[priority.Bucket][]map[string]any{bucket: {envelope}})
	if err != nil {
		fmt.Println("submit rejected:", err)
		return
	}
	fmt.Println("submitted to bucket", bucket)
}
