package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	zmodem "github.com/nightfall-wire/go-zmodem"
	"github.com/nightfall-wire/go-zmodem/transport"
)

var (
	verbose       = flag.Bool("v", false, "verbose mode")
	quiet         = flag.Bool("q", false, "quiet mode")
	escape        = flag.Bool("e", false, "escape control characters")
	ymodem        = flag.Bool("Y", false, "fall back to YMODEM instead of ZMODEM")
	xmodem        = flag.Bool("X", false, "fall back to XMODEM instead of ZMODEM")
	timeoutTenths = flag.Int("t", 100, "timeout in tenths of seconds")
	help          = flag.Bool("h", false, "show help")
	version       = flag.Bool("version", false, "show version")
)

const versionString = "gsz version 0.1.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}
	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if *quiet {
		log.SetLevel(log.ErrorLevel)
	} else if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s: no files specified\n", os.Args[0])
		showUsage(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := signalContext(sigChan)
	defer cancel()

	cfg := zmodem.DefaultConfig()
	cfg.EscapeControl = *escape
	cfg.TimeoutSeconds = (*timeoutTenths + 9) / 10
	cfg.EventSink = zmodem.NewLogrusSink(log.StandardLogger())

	host := transport.NewFileHost(".", os.Stdout)

	var err error
	switch {
	case *ymodem || *xmodem:
		engine := zmodem.NewYmodemSenderSession(host, cfg, *xmodem)
		for _, name := range files {
			of, closeFn, oerr := transport.OutgoingFileFromPath(name)
			if oerr != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, oerr)
				continue
			}
			defer closeFn()
			engine.QueueFile(of)
		}
		err = transport.RunEngine(ctx, os.Stdin, engine)
	default:
		engine := zmodem.NewSenderSession(host, cfg)
		for _, name := range files {
			of, closeFn, oerr := transport.OutgoingFileFromPath(name)
			if oerr != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, oerr)
				continue
			}
			defer closeFn()
			engine.QueueFile(of)
		}
		err = transport.RunEngine(ctx, os.Stdin, engine)
	}

	if err != nil && !zmodem.IsDone(err) {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func signalContext(sigChan chan os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - send files with ZMODEM protocol

Usage: %s [options] file...

Options:
  -e               escape control characters
  -h               show this help message
  -q               quiet mode, minimal output
  -t N             timeout in tenths of seconds (default: 100)
  -v               verbose mode
  -X               fall back to XMODEM
  -Y               fall back to YMODEM
  --version        show version
`, versionString, os.Args[0])
	os.Exit(exitcode)
}
