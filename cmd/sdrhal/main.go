package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrfx/sdrhal/internal/discovery"
	"github.com/openrfx/sdrhal/internal/dsp"
	"github.com/openrfx/sdrhal/internal/logging"
	"github.com/openrfx/sdrhal/internal/telemetry"
	"github.com/openrfx/sdrhal/netsdr"
	"github.com/openrfx/sdrhal/sdr"
)

var rootCmd = &cobra.Command{
	Use:   "sdrhal",
	Short: "Control and stream from SDR front-end modules.",
}

var (
	flagAddr     string
	flagSim      bool
	flagLogLevel string

	frequencyHz float64
	sampleHz    float64
	oversample  uint8
	channelIdx  uint8
	sampleCount int
	outPath     string
	httpAddr    string
	waitSeconds int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagAddr, "addr", "a", "", "Device address (host:port)")
	rootCmd.PersistentFlags().BoolVar(&flagSim, "sim", false, "Use the built-in simulated device")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the network for devices",
		Run:   func(cmd *cobra.Command, args []string) { discover() },
	}
	discoverCmd.Flags().IntVarP(&waitSeconds, "wait", "w", 3, "Seconds to browse")
	rootCmd.AddCommand(discoverCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Print the device descriptor",
		Run:   func(cmd *cobra.Command, args []string) { info() },
	})

	rxCmd := &cobra.Command{
		Use:   "rx [flags]",
		Short: "Capture complex samples to a file",
		Run:   func(cmd *cobra.Command, args []string) { rx() },
	}
	rxCmd.Flags().Float64VarP(&frequencyHz, "frequency", "f", 0, "LO frequency in Hz")
	rxCmd.Flags().Float64VarP(&sampleHz, "sample-rate", "s", 2e6, "Sample rate in Hz")
	rxCmd.Flags().Uint8Var(&oversample, "oversample", 2, "Decimation/interpolation ratio")
	rxCmd.Flags().Uint8VarP(&channelIdx, "channel", "c", 0, "RX channel index")
	rxCmd.Flags().IntVarP(&sampleCount, "count", "n", 1<<20, "Samples to capture")
	rxCmd.Flags().StringVarP(&outPath, "out", "o", "capture.cf32", "Output file (interleaved float32 IQ)")
	rootCmd.AddCommand(rxCmd)

	monitorCmd := &cobra.Command{
		Use:   "monitor [flags]",
		Short: "Stream and publish health telemetry over HTTP",
		Run:   func(cmd *cobra.Command, args []string) { monitor() },
	}
	monitorCmd.Flags().Float64VarP(&frequencyHz, "frequency", "f", 433e6, "LO frequency in Hz")
	monitorCmd.Flags().Float64VarP(&sampleHz, "sample-rate", "s", 2e6, "Sample rate in Hz")
	monitorCmd.Flags().Uint8Var(&oversample, "oversample", 2, "Decimation/interpolation ratio")
	monitorCmd.Flags().Uint8VarP(&channelIdx, "channel", "c", 0, "RX channel index")
	monitorCmd.Flags().StringVar(&httpAddr, "http", ":8080", "Telemetry HTTP listen address")
	rootCmd.AddCommand(monitorCmd)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func newLogger() logging.Logger {
	level := logging.Info
	if flagLogLevel != "" {
		l, err := logging.ParseLevel(flagLogLevel)
		if err != nil {
			fatalf("bad log level: %v", err)
		}
		level = l
	}
	return logging.New(level, logging.Text, os.Stderr)
}

func openDevice(logger logging.Logger) sdr.Device {
	if flagSim {
		dev := sdr.NewSimDevice()
		dev.SetMessageLogCallback(logging.Callback(logger))
		return dev
	}
	addr := flagAddr
	if addr == "" {
		fatalf("no device address: pass --addr or --sim, or set addr in %s.toml", configName)
	}
	dev, err := netsdr.Dial(addr, &netsdr.Options{Timeout: dialTimeout(), SSH: sshConfig()})
	if err != nil {
		fatalf("dial %s: %v", addr, err)
	}
	dev.SetMessageLogCallback(logging.Callback(logger))
	return dev
}

func discover() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(waitSeconds)*time.Second)
	defer cancel()
	endpoints, err := discovery.Browse(ctx)
	if err != nil {
		fatalf("browse: %v", err)
	}
	if len(endpoints) == 0 {
		fmt.Println("no devices found")
		return
	}
	for _, ep := range endpoints {
		fmt.Printf("%-24s %s\n", ep.Instance, ep.Addr())
	}
}

func info() {
	logger := newLogger()
	dev := openDevice(logger)
	defer dev.Close()

	out, err := json.MarshalIndent(dev.Descriptor(), "", "  ")
	if err != nil {
		fatalf("marshal descriptor: %v", err)
	}
	fmt.Println(string(out))
}

// rxConfig builds a single-channel receive configuration from the flags.
func rxConfig() sdr.SDRConfig {
	cfg := sdr.SDRConfig{}
	cfg.Channels[channelIdx] = sdr.ChannelConfig{
		RxEnabled:         true,
		RxCenterFrequency: frequencyHz,
		RxSampleRate:      sampleHz,
		RxOversample:      oversample,
		RxPath:            1,
		RxLPF:             sampleHz,
	}
	return cfg
}

func setupDevice(logger logging.Logger) sdr.Device {
	dev := openDevice(logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dev.Init(ctx); err != nil {
		fatalf("init: %v", err)
	}
	if err := dev.Configure(rxConfig(), 0); err != nil {
		fatalf("configure: %v", err)
	}
	return dev
}

func rx() {
	if frequencyHz == 0 {
		fatalf("need --frequency")
	}
	logger := newLogger()
	dev := setupDevice(logger)
	defer dev.Close()

	scfg := sdr.StreamConfig{
		RxChannels:     []uint8{channelIdx},
		Format:         sdr.FormatF32,
		LinkFormat:     sdr.FormatI16,
		HintSampleRate: sampleHz,
	}
	if err := dev.StreamSetup(scfg, 0); err != nil {
		fatalf("stream setup: %v", err)
	}
	if err := dev.StreamStart(0); err != nil {
		fatalf("stream start: %v", err)
	}
	defer dev.StreamStop(0)

	f, err := os.Create(outPath)
	if err != nil {
		fatalf("create %s: %v", outPath, err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	const chunk = 16384
	buf := []sdr.Samples{{F32: make([]complex64, chunk)}}
	remaining := sampleCount
	for remaining > 0 && ctx.Err() == nil {
		want := chunk
		if remaining < want {
			want = remaining
		}
		n, err := dev.StreamRx(0, buf, want, nil)
		if err != nil {
			fatalf("stream rx: %v", err)
		}
		if n == 0 {
			break
		}
		if err := binary.Write(f, binary.LittleEndian, buf[0].F32[:n]); err != nil {
			fatalf("write %s: %v", outPath, err)
		}
		remaining -= n
	}

	logger.Info("capture complete",
		logging.Field{Key: "samples", Value: sampleCount - remaining},
		logging.Field{Key: "file", Value: outPath})
}

func monitor() {
	logger := newLogger()
	dev := setupDevice(logger)
	defer dev.Close()

	hub := telemetry.NewHub(0)
	reporter := telemetry.MultiReporter{hub, telemetry.NewLogReporter(logger)}

	scfg := sdr.StreamConfig{
		RxChannels:     []uint8{channelIdx},
		Format:         sdr.FormatF32,
		LinkFormat:     sdr.FormatI16,
		HintSampleRate: sampleHz,
		StatusCallback: func(stats *sdr.StreamStats, _ any) bool {
			reporter.Report(telemetry.Sample{Module: 0, Stats: *stats})
			return true
		},
	}
	if err := dev.StreamSetup(scfg, 0); err != nil {
		fatalf("stream setup: %v", err)
	}
	if err := dev.StreamStart(0); err != nil {
		fatalf("stream start: %v", err)
	}
	defer dev.StreamStop(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// drain in the background so the FIFO keeps moving, and log the
	// spectral peak every so often as a sanity signal
	go func() {
		const fftSize = 8192
		buf := []sdr.Samples{{F32: make([]complex64, fftSize)}}
		reads := 0
		for ctx.Err() == nil {
			n, err := dev.StreamRx(0, buf, fftSize, nil)
			if err != nil {
				return
			}
			reads++
			if n == fftSize && reads%64 == 0 {
				bin, level, ok := dsp.Peak(dsp.Spectrum(buf[0].F32))
				if ok {
					logger.Info("spectral peak",
						logging.Field{Key: "offset_hz", Value: dsp.BinFrequency(bin, fftSize, sampleHz)},
						logging.Field{Key: "peak_dbfs", Value: level})
				}
			}
		}
	}()

	logger.Info("telemetry listening", logging.Field{Key: "addr", Value: httpAddr})
	telemetry.NewWebServer(httpAddr, hub).Start(ctx)
}

func main() {
	loadConfig()
	if err := rootCmd.Execute(); err != nil {
		fatalf("%v", err)
	}
}
