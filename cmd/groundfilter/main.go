package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/banshee-data/scanground/internal/config"
	"github.com/banshee-data/scanground/internal/db"
	"github.com/banshee-data/scanground/internal/lidar/l4perception"
	"github.com/banshee-data/scanground/internal/lidar/monitor"
	"github.com/banshee-data/scanground/internal/lidar/pointio"
	"github.com/banshee-data/scanground/internal/lidar/storage/sqlite"
	"github.com/banshee-data/scanground/internal/monitoring"
	"github.com/banshee-data/scanground/internal/security"
	"github.com/banshee-data/scanground/internal/vehicle"
	"github.com/banshee-data/scanground/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the ground filter tuning JSON")
	vehiclePath = flag.String("vehicle", vehicle.DefaultInfoPath, "Path to the vehicle info YAML")
	inputPath   = flag.String("input", "", "CSV frame file, or directory of CSV frames processed in lexical order")
	outputDir   = flag.String("output-dir", "", "Directory for object point CSVs (default: no output)")
	dbFile      = flag.String("db", "", "Path to the SQLite pass statistics database (default: disabled)")
	plotDir     = flag.String("plot-dir", "", "Directory for top-down debug plots (default: disabled)")
	profileSec  = flag.Int("profile-sector", -1, "Also plot the radius/height profile of this sector into -plot-dir (-1 disables)")
	workers     = flag.Int("workers", 0, "Override sector_workers from the tuning file (0 keeps the file value)")
	debugLog    = flag.Bool("debug-log", false, "Write the filter's ops, diag and trace streams to stderr")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// runner holds everything a frame pass needs beyond the frame itself.
type runner struct {
	filter     *l4perception.ScanGroundFilter
	vehicles   *vehicle.Store
	configPath string
	workers    int

	outputDir     string
	plotter       *monitor.GroundPlotter
	profileSector int
	passes    *sqlite.GroundPassStore
	runID     string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("groundfilter"))
		return
	}
	if *inputPath == "" {
		log.Fatalf("-input is required")
	}

	if *debugLog {
		l4perception.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		l4perception.SetLogWriters(monitoring.Writer{}, nil, nil)
	}

	frames, err := listFrames(*inputPath)
	if err != nil {
		log.Fatalf("Failed to list input frames: %v", err)
	}

	r, err := newRunner(*configPath, *vehiclePath, *workers)
	if err != nil {
		log.Fatalf("Failed to initialise ground filter: %v", err)
	}
	r.outputDir = *outputDir
	if *plotDir != "" {
		r.plotter = monitor.NewGroundPlotter(*plotDir)
	}
	if *profileSec >= 0 {
		if r.plotter == nil {
			log.Fatalf("-profile-sector requires -plot-dir")
		}
		if n := r.filter.RadialDividersNum(); *profileSec >= n {
			log.Fatalf("-profile-sector %d out of range [0, %d)", *profileSec, n)
		}
		r.profileSector = *profileSec
	}
	if *dbFile != "" {
		database, err := db.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		r.passes = sqlite.NewGroundPassStore(database.DB)
	}
	if r.outputDir != "" {
		if err := os.MkdirAll(r.outputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	log.Printf("groundfilter run %s: %d frames, %d sectors, wheel_base %.3f m",
		r.runID, len(frames), r.filter.RadialDividersNum(), r.filter.WheelBase())

	processed, failed := r.run(ctx, frames, hup)

	stats := r.filter.Stats()
	log.Printf("run %s finished: %d frames processed, %d failed, %d points in, %d non-ground (%.1f%%)",
		r.runID, processed, failed, stats.PointsIn, stats.PointsNonGround, 100*stats.NonGroundFraction())
	if r.passes != nil {
		if summary, err := r.passes.Summarize(r.runID); err == nil {
			log.Printf("run %s stored: %d passes, mean non-ground fraction %.3f, mean pass %.2f ms",
				r.runID, summary.Passes, summary.MeanNonGroundFraction, summary.MeanDurationNs/1e6)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// newRunner loads the tuning and vehicle files and builds the filter.
func newRunner(cfgPath, vehPath string, workersOverride int) (*runner, error) {
	cfg, err := loadTuning(cfgPath, workersOverride)
	if err != nil {
		return nil, err
	}
	info, err := vehicle.LoadInfo(vehPath)
	if err != nil {
		return nil, err
	}
	filter, err := l4perception.NewScanGroundFilter(l4perception.ScanGroundParamsFromConfig(cfg), info)
	if err != nil {
		return nil, err
	}
	return &runner{
		filter:        filter,
		vehicles:      vehicle.NewStore(info, vehPath),
		configPath:    cfgPath,
		workers:       workersOverride,
		profileSector: -1,
		runID:         uuid.New().String(),
	}, nil
}

func loadTuning(path string, workersOverride int) (*config.GroundConfig, error) {
	cfg, err := config.LoadGroundConfig(path)
	if err != nil {
		return nil, err
	}
	if workersOverride > 0 {
		cfg.SectorWorkers = &workersOverride
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid -workers: %w", err)
		}
	}
	return cfg, nil
}

// run processes frames in order, reloading configuration between frames
// whenever hup fires. It stops early when ctx is cancelled.
func (r *runner) run(ctx context.Context, frames []string, hup <-chan os.Signal) (processed, failed int) {
	for seq, path := range frames {
		select {
		case <-ctx.Done():
			log.Printf("interrupted after %d frames", processed)
			return processed, failed
		case <-hup:
			r.reload()
		default:
		}

		if _, err := r.processFrame(path, uint64(seq)); err != nil {
			log.Printf("frame %s: %v", path, err)
			failed++
			continue
		}
		processed++
	}
	return processed, failed
}

// reload re-reads the tuning and vehicle files. Either half that fails to
// load or validate is logged and the filter keeps its previous values.
func (r *runner) reload() {
	cfg, err := loadTuning(r.configPath, r.workers)
	if err != nil {
		log.Printf("reload %s: %v (keeping previous tuning)", r.configPath, err)
	} else if err := r.filter.ApplyConfig(cfg); err != nil {
		log.Printf("reload %s: %v (keeping previous tuning)", r.configPath, err)
	} else {
		log.Printf("reloaded tuning from %s: %d sectors", r.configPath, r.filter.RadialDividersNum())
	}

	info, err := r.vehicles.Reload()
	if err != nil {
		log.Printf("reload vehicle info: %v (keeping previous)", err)
		return
	}
	if err := r.filter.SetVehicleInfo(info); err != nil {
		log.Printf("reload vehicle info: %v (keeping previous)", err)
	}
}

// listFrames returns the CSV frames at path: the file itself, or every
// .csv file in the directory sorted lexically.
func listFrames(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		frames = append(frames, filepath.Join(path, e.Name()))
	}
	sort.Strings(frames)
	if len(frames) == 0 {
		return nil, fmt.Errorf("no .csv frames in %s", path)
	}
	return frames, nil
}

func frameID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// processFrame classifies one CSV frame and writes whatever outputs are
// enabled. It returns the object cloud.
func (r *runner) processFrame(path string, seq uint64) (l4perception.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return l4perception.PointCloud{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return l4perception.PointCloud{}, err
	}
	points, err := pointio.ReadCSV(f)
	if err != nil {
		return l4perception.PointCloud{}, err
	}

	header := l4perception.FrameHeader{FrameID: frameID(path), Stamp: st.ModTime(), Seq: seq}
	params := r.filter.Params()
	indices, err := r.filter.ClassifyIndices(points)
	if err != nil {
		return l4perception.PointCloud{}, fmt.Errorf("frame %q seq %d: %w", header.FrameID, seq, err)
	}
	duration := r.filter.Stats().LastPassDuration
	objects := l4perception.PointCloud{Header: header, Points: l4perception.ExtractObjectPoints(points, indices)}

	if r.outputDir != "" {
		out, err := security.OutputPath(r.outputDir, header.FrameID+"_objects.csv")
		if err != nil {
			return objects, err
		}
		if err := writeObjects(out, objects.Points); err != nil {
			return objects, err
		}
	}
	if r.plotter != nil {
		cloud := l4perception.PointCloud{Header: header, Points: points}
		if err := r.plotter.PlotFrame(cloud, indices, monitor.FrameFile(header)); err != nil {
			return objects, err
		}
		// A reload can shrink the sector count below the requested sector.
		if r.profileSector >= 0 && r.profileSector < params.RadialDividersNum() {
			err := r.plotter.PlotProfile(cloud, indices, params.RadialDividerAngleRad, r.profileSector, monitor.ProfileFile(header, r.profileSector))
			if err != nil {
				return objects, err
			}
		}
	}
	if r.passes != nil {
		paramsJSON, err := json.Marshal(params.ToConfig())
		if err != nil {
			return objects, fmt.Errorf("marshal params: %w", err)
		}
		pass := &sqlite.GroundPass{
			RunID:           r.runID,
			FrameID:         header.FrameID,
			FrameSeq:        int64(seq),
			FrameStampNs:    header.Stamp.UnixNano(),
			PointsIn:        len(points),
			PointsNonGround: len(indices),
			Sectors:         params.RadialDividersNum(),
			DurationNs:      duration.Nanoseconds(),
			ParamsJSON:      paramsJSON,
		}
		if err := r.passes.Insert(pass); err != nil {
			return objects, err
		}
	}
	return objects, nil
}

func writeObjects(path string, points []l4perception.Point3D) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pointio.WriteCSV(out, points); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
