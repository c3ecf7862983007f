// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The divesync command downloads new dives from a dive computer.
//
// Usage:
//
//	divesync [flags] list|ports|scan|battery|download
//
// Flags override the values read from the YAML configuration file.
// Downloads are incremental: the fingerprint of the newest dive is kept
// in the output directory and only dives newer than it are fetched.
package main

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/wyvernp/pelagic-sub001/battery"
	"github.com/wyvernp/pelagic-sub001/dive"
	"github.com/wyvernp/pelagic-sub001/registry"
	"github.com/wyvernp/pelagic-sub001/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "divesync.yaml", "configuration file")
	family := flag.String("family", "", "dive computer family")
	addr := flag.String("addr", "", "device address (serial path, usb[:VVVV:PPPP], LE:MAC or BT:MAC[@channel])")
	out := flag.String("out", "", "output directory")
	timeout := flag.Duration("timeout", 0, "read timeout")
	retries := flag.Int("retries", 0, "number of retries for failed requests")
	level := flag.String("v", "", "log level")
	samples := flag.Bool("samples", false, "write decoded samples as CSV next to each dive")
	scan := flag.Duration("scan", 0, "BLE scan duration")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] list|ports|scan|battery|download\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg, err := loadConfig(*cfgPath, set["config"])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for name := range set {
		switch name {
		case "family":
			cfg.Family = *family
		case "addr":
			cfg.Address = *addr
		case "out":
			cfg.Output = *out
		case "timeout":
			cfg.Timeout = *timeout
		case "retries":
			cfg.Retries = retries
		case "v":
			cfg.LogLevel = *level
		case "samples":
			cfg.Samples = *samples
		case "scan":
			cfg.Scan = *scan
		}
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		return 2
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.WithContext(ctx)

	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = list()
	case "ports":
		err = ports()
	case "scan":
		err = scanBLE(ctx, cfg.Scan)
	case "battery":
		err = batteryLevel(ctx, cfg.Address)
	case "download":
		err = download(ctx, cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}
	if err != nil {
		log.Error().Err(err).Msg(flag.Arg(0))
		if k, _ := dive.KindOf(err); k == dive.KindCancelled {
			return 130
		}
		return 1
	}
	return 0
}

func list() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tSUPPORTED\tPROTOCOL\tTRANSPORTS\tNOTES")
	for _, d := range registry.SupportMatrix() {
		transports := "-"
		if d.Transports != 0 {
			transports = d.Transports.String()
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\n", d.Family, d.Supported, d.Protocol, transports, d.Notes)
	}
	return w.Flush()
}

func ports() error {
	ps, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	for _, p := range ps {
		switch {
		case p.Product != nil:
			fam := "-"
			if f, ok := registry.Lookup(p.Product.Vendor, p.Product.Product); ok {
				fam = f.String()
			}
			fmt.Printf("%s\t%s\t%s %s\t%s\n", p.Name, p.USB, p.Product.Vendor, p.Product.Product, fam)
		case p.USB != nil:
			fmt.Printf("%s\t%s\n", p.Name, p.USB)
		default:
			fmt.Println(p.Name)
		}
	}
	return nil
}

func scanBLE(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	seen := make(map[string]bool)
	err := transport.ScanBLE(ctx, func(f transport.Found) bool {
		if seen[f.Address] {
			return true
		}
		seen[f.Address] = true
		fam := "-"
		if family, ok := registry.Lookup(f.Vendor, f.Product); ok {
			fam = family.String()
		}
		fmt.Println(scanLine(f, fam))
		return true
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// scanLine formats a found device. The address already carries the
// advertised name.
func scanLine(f transport.Found, family string) string {
	return fmt.Sprintf("%s\t%d dBm\t%s %s\t%s", f.Address, f.RSSI, f.Vendor, f.Product, family)
}

func batteryLevel(ctx context.Context, address string) error {
	level, err := battery.Query(ctx, address)
	if err != nil {
		return err
	}
	fmt.Printf("%d%%\n", level)
	return nil
}

func download(ctx context.Context, cfg config, log zerolog.Logger) error {
	fam, err := registry.ParseFamily(cfg.Family)
	if err != nil {
		return err
	}
	if cfg.Address == "" {
		return dive.Errorf(dive.KindNoDevice, "download", "no device address")
	}
	opts := []dive.Option{dive.WithLogger(log.With().Str("family", fam.String()).Logger())}
	if cfg.Timeout > 0 {
		opts = append(opts, dive.WithTimeout(cfg.Timeout))
	}
	if cfg.Retries != nil {
		opts = append(opts, dive.WithRetries(*cfg.Retries))
	}
	p := registry.ProtocolFor(fam, opts...)
	if p == nil {
		return dive.Errorf(dive.KindUnsupported, "download", "%s is not supported: %s", fam, registry.Describe(fam).Notes)
	}

	if a, err := transport.ParseAddress(cfg.Address); err == nil && a.Kind == transport.BLE {
		level, err := battery.Query(ctx, cfg.Address)
		if err != nil {
			log.Debug().Err(err).Msg("battery level unavailable")
		} else {
			log.Info().Int("battery", level).Msg("battery level")
		}
	}

	err = p.Connect(ctx, cfg.Address)
	if err != nil {
		return err
	}
	defer p.Disconnect()
	info, _ := p.DeviceInfo()
	log.Info().Stringer("device", info).Msg("connected")

	err = os.MkdirAll(cfg.Output, 0o755)
	if err != nil {
		return err
	}
	fpPath := fingerprintPath(cfg.Output, fam.String(), info.Serial)
	fp, err := readFingerprint(fpPath)
	if err != nil {
		return err
	}
	p.SetFingerprint(fp)

	r, err := syncDives(ctx, p, cfg, fpPath)
	if err != nil {
		return err
	}
	log.Info().Int("dives", len(r.Dives)).Int("failed", len(r.Failed)).Msg("download complete")
	return nil
}

// syncDives downloads the dives newer than the configured fingerprint of
// p into cfg.Output and records the fingerprint to resume from at fpPath.
func syncDives(ctx context.Context, p dive.Protocol, cfg config, fpPath string) (dive.Report, error) {
	log := zerolog.Ctx(ctx)
	dec, _ := p.(dive.SampleDecoder)
	var saveErr error
	r, err := dive.Download(ctx, p,
		func(d dive.ProtocolDive, i, total int) bool {
			name, err := saveDive(cfg.Output, d)
			if err != nil {
				saveErr = err
				return false
			}
			log.Info().Str("file", name).Time("start", d.Timestamp).Msg("saved dive")
			if cfg.Samples && dec != nil {
				err = saveSamples(strings.TrimSuffix(name, ".bin")+".csv", dec, d.Data)
				if err != nil {
					log.Warn().Err(err).Str("file", name).Msg("failed to decode samples")
				}
			}
			return true
		},
		func(current, total int) {
			log.Debug().Int("current", current).Int("total", total).Msg("progress")
		},
	)
	if saveErr != nil {
		return r, saveErr
	}
	if err != nil {
		// The fingerprint is left untouched so that older dives
		// that were not reached are fetched on the next run.
		return r, err
	}
	if len(r.Failed) != 0 {
		log.Warn().Strs("dives", r.Failed).Msg("dives failed to download and will be retried on the next run")
	}
	if r.Resume != nil {
		err = writeFingerprint(fpPath, r.Resume)
		if err != nil {
			return r, err
		}
	}
	return r, nil
}

func saveDive(dir string, d dive.ProtocolDive) (string, error) {
	name := filepath.Join(dir, fmt.Sprintf("%s-%x.bin", d.Timestamp.Format("20060102T150405"), d.Fingerprint))
	return name, os.WriteFile(name, d.Data, 0o644)
}

func saveSamples(path string, dec dive.SampleDecoder, data []byte) error {
	samples, err := dec.Samples(data)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write([]string{"time_s", "depth_m", "temperature_c", "pressure_bar", "ndl_min"})
	for _, s := range samples {
		rec := []string{strconv.FormatFloat(s.Time.Seconds(), 'f', -1, 64), strconv.FormatFloat(s.Depth, 'f', 2, 64), "", "", ""}
		if s.Has(dive.HasTemperature) {
			rec[2] = strconv.FormatFloat(s.Temperature, 'f', 1, 64)
		}
		if s.Has(dive.HasPressure) {
			rec[3] = strconv.FormatFloat(s.Pressure[0].Bar, 'f', 1, 64)
		}
		if s.Has(dive.HasNDL) {
			rec[4] = strconv.FormatFloat(s.NDL.Minutes(), 'f', 0, 64)
		}
		w.Write(rec)
	}
	w.Flush()
	err = w.Error()
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fingerprintPath(dir, family, serial string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.fingerprint", strings.ToLower(family), serial))
}

func readFingerprint(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(b)))
}

func writeFingerprint(path string, fp []byte) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(fp)+"\n"), 0o644)
}
