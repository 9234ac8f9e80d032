package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanground/internal/db"
	"github.com/banshee-data/scanground/internal/lidar/monitor"
	"github.com/banshee-data/scanground/internal/lidar/pointio"
	"github.com/banshee-data/scanground/internal/lidar/storage/sqlite"
	"github.com/banshee-data/scanground/internal/monitoring"
)

const testVehicleYAML = `vehicle_info:
  wheel_radius: 0.383
  wheel_width: 0.235
  wheel_base: 2.79
  wheel_tread: 1.64
  front_overhang: 1.0
  rear_overhang: 1.1
  left_overhang: 0.128
  right_overhang: 0.128
  vehicle_height: 2.5
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// setupRunner writes tuning and vehicle files into a temp dir and builds a
// runner over them.
func setupRunner(t *testing.T, tuning string) (*runner, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ground.json")
	vehPath := filepath.Join(dir, "vehicle.yaml")
	writeFile(t, cfgPath, tuning)
	writeFile(t, vehPath, testVehicleYAML)

	r, err := newRunner(cfgPath, vehPath, 0)
	require.NoError(t, err)
	return r, dir
}

const frameCSV = "x,y,z\n5,0,0\n5.1,0,0.05\n-3,0,2\n0,4,3\n"

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), frameCSV)
	writeFile(t, filepath.Join(dir, "a.csv"), frameCSV)
	writeFile(t, filepath.Join(dir, "c.CSV"), frameCSV)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0755))

	frames, err := listFrames(dir)
	require.NoError(t, err)
	want := []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "b.csv"),
		filepath.Join(dir, "c.CSV"),
	}
	assert.Equal(t, want, frames)

	single, err := listFrames(want[1])
	require.NoError(t, err)
	assert.Equal(t, []string{want[1]}, single)

	_, err = listFrames(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = listFrames(empty)
	assert.Error(t, err)
}

func TestFrameID(t *testing.T) {
	assert.Equal(t, "frame_0001", frameID("/data/run/frame_0001.csv"))
	assert.Equal(t, "scan", frameID("scan"))
}

func TestNewRunner_WorkersOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ground.json")
	vehPath := filepath.Join(dir, "vehicle.yaml")
	writeFile(t, cfgPath, `{"sector_workers": 1}`)
	writeFile(t, vehPath, testVehicleYAML)

	r, err := newRunner(cfgPath, vehPath, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.filter.Params().SectorWorkers)
	assert.NotEmpty(t, r.runID)

	_, err = newRunner(cfgPath, vehPath, 1000)
	assert.Error(t, err)
}

func TestProcessFrame_Outputs(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	r, dir := setupRunner(t, `{}`)
	r.outputDir = filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(r.outputDir, 0755))
	r.plotter = monitor.NewGroundPlotter(filepath.Join(dir, "plots"))
	r.profileSector = 0

	database, err := db.Open(filepath.Join(dir, "passes.db"))
	require.NoError(t, err)
	defer database.Close()
	r.passes = sqlite.NewGroundPassStore(database.DB)

	framePath := filepath.Join(dir, "frames", "frame_0003.csv")
	writeFile(t, framePath, frameCSV)

	objects, err := r.processFrame(framePath, 3)
	require.NoError(t, err)
	assert.Equal(t, "frame_0003", objects.Header.FrameID)
	assert.Equal(t, uint64(3), objects.Header.Seq)
	// Seeded ground at (5,0,0) and its follower stay; both high returns go.
	assert.Len(t, objects.Points, 2)

	f, err := os.Open(filepath.Join(r.outputDir, "frame_0003_objects.csv"))
	require.NoError(t, err)
	written, err := pointio.ReadCSV(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, objects.Points, written)

	_, err = os.Stat(filepath.Join(dir, "plots", "frame_000003_topdown.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "plots", "frame_000003_sector_000_profile.png"))
	assert.NoError(t, err)

	passes, err := r.passes.ListByRun(r.runID)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, 4, passes[0].PointsIn)
	assert.Equal(t, 2, passes[0].PointsNonGround)
	assert.Equal(t, 360, passes[0].Sectors)
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal(passes[0].ParamsJSON, &params))
	assert.InDelta(t, 1.0, params["radial_divider_angle_deg"], 1e-9)
}

func TestProcessFrame_ProfileSectorOutOfRange(t *testing.T) {
	r, dir := setupRunner(t, `{"radial_divider_angle_deg": 90}`)
	r.plotter = monitor.NewGroundPlotter(filepath.Join(dir, "plots"))
	r.profileSector = 10

	framePath := filepath.Join(dir, "frame_0000.csv")
	writeFile(t, framePath, frameCSV)
	_, err := r.processFrame(framePath, 0)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "plots", "frame_000000_topdown.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "plots", "frame_000000_sector_010_profile.png"))
	assert.True(t, os.IsNotExist(err), "no profile for a sector past the divider count")
}

func TestProcessFrame_Errors(t *testing.T) {
	r, dir := setupRunner(t, `{}`)

	_, err := r.processFrame(filepath.Join(dir, "missing.csv"), 0)
	assert.Error(t, err)

	bad := filepath.Join(dir, "nan.csv")
	writeFile(t, bad, "1,2,3\nNaN,0,0\n")
	_, err = r.processFrame(bad, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `frame "nan" seq 1`)
	assert.Equal(t, int64(1), r.filter.Stats().Rejected)
}

func TestRun_ReloadOnHUP(t *testing.T) {
	r, dir := setupRunner(t, `{"radial_divider_angle_deg": 1.0}`)
	frames := []string{filepath.Join(dir, "f0.csv"), filepath.Join(dir, "f1.csv")}
	for _, p := range frames {
		writeFile(t, p, frameCSV)
	}

	writeFile(t, r.configPath, `{"radial_divider_angle_deg": 2.0}`)
	hup := make(chan os.Signal, 1)
	hup <- syscall.SIGHUP

	processed, failed := r.run(context.Background(), frames, hup)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 180, r.filter.RadialDividersNum())
}

func TestReload_InvalidKeepsPrevious(t *testing.T) {
	r, _ := setupRunner(t, `{"local_slope_max_angle_deg": 5.0}`)
	before := r.filter.Params()
	wheelBase := r.filter.WheelBase()

	writeFile(t, r.configPath, `{"local_slope_max_angle_deg": 4.0, "radial_divider_angle_deg": -1}`)
	writeFile(t, r.vehicles.Path(), strings.Replace(testVehicleYAML, "wheel_base: 2.79", "wheel_base: -2", 1))
	r.reload()

	assert.Equal(t, before, r.filter.Params())
	assert.Equal(t, wheelBase, r.filter.WheelBase())
}

func TestReload_VehicleInfo(t *testing.T) {
	r, _ := setupRunner(t, `{}`)

	writeFile(t, r.vehicles.Path(), strings.Replace(testVehicleYAML, "wheel_base: 2.79", "wheel_base: 3.1", 1))
	r.reload()
	assert.Equal(t, 3.1, r.filter.WheelBase())
}

func TestRun_Cancelled(t *testing.T) {
	r, dir := setupRunner(t, `{}`)
	frame := filepath.Join(dir, "f.csv")
	writeFile(t, frame, frameCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	processed, failed := r.run(ctx, []string{frame, frame}, nil)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, failed)
}
