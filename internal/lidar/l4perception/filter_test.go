package l4perception

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanground/internal/config"
	"github.com/banshee-data/scanground/internal/timeutil"
	"github.com/banshee-data/scanground/internal/vehicle"
)

var testVehicle = vehicle.Info{WheelBaseM: testWheelBase}

func ptr[T any](v T) *T { return &v }

func newTestFilter(t *testing.T, opts ...Option) *ScanGroundFilter {
	t.Helper()
	f, err := NewScanGroundFilter(DefaultScanGroundParams(), testVehicle, opts...)
	require.NoError(t, err)
	return f
}

func TestNewScanGroundFilter_RejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScanGroundParams)
	}{
		{"zero divider", func(p *ScanGroundParams) { p.RadialDividerAngleRad = 0 }},
		{"negative divider", func(p *ScanGroundParams) { p.RadialDividerAngleRad = -0.1 }},
		{"NaN divider", func(p *ScanGroundParams) { p.RadialDividerAngleRad = math.NaN() }},
		{"tiny divider", func(p *ScanGroundParams) { p.RadialDividerAngleRad = 1e-300 }},
		{"divider below minimum", func(p *ScanGroundParams) { p.RadialDividerAngleRad = deg2rad(1e-4) }},
		{"zero global slope", func(p *ScanGroundParams) { p.GlobalSlopeMaxAngleRad = 0 }},
		{"negative tolerance", func(p *ScanGroundParams) { p.SplitPointsDistanceTolerance = -1 }},
		{"infinite split height", func(p *ScanGroundParams) { p.SplitHeightDistance = math.Inf(1) }},
		{"zero workers", func(p *ScanGroundParams) { p.SectorWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultScanGroundParams()
			tt.mutate(&p)
			_, err := NewScanGroundFilter(p, testVehicle)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "want ErrInvalidConfig, got %v", err)
		})
	}

	t.Run("negative wheel base", func(t *testing.T) {
		_, err := NewScanGroundFilter(DefaultScanGroundParams(), vehicle.Info{WheelBaseM: -1})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestDefaultScanGroundParams(t *testing.T) {
	p := DefaultScanGroundParams()
	assert.InDelta(t, 8*math.Pi/180, p.GlobalSlopeMaxAngleRad, 1e-12)
	assert.InDelta(t, 6*math.Pi/180, p.LocalSlopeMaxAngleRad, 1e-12)
	assert.InDelta(t, math.Pi/180, p.RadialDividerAngleRad, 1e-12)
	assert.Equal(t, 0.2, p.SplitPointsDistanceTolerance)
	assert.Equal(t, 0.2, p.SplitHeightDistance)
	assert.True(t, p.UseVirtualGroundPoint)
	assert.Equal(t, 1, p.SectorWorkers)
	assert.Equal(t, 360, p.RadialDividersNum())
}

func TestScanGroundParams_DefaultsFile(t *testing.T) {
	got := ScanGroundParamsFromConfig(config.MustLoadDefaultConfig())
	assert.Equal(t, DefaultScanGroundParams(), got)
}

func TestScanGroundParams_ConfigRoundTrip(t *testing.T) {
	p := DefaultScanGroundParams()
	p.LocalSlopeMaxAngleRad = deg2rad(4)
	back := DefaultScanGroundParams().WithConfig(p.ToConfig())
	assert.InDelta(t, p.LocalSlopeMaxAngleRad, back.LocalSlopeMaxAngleRad, 1e-12)
	assert.InDelta(t, 4.0, *p.ToConfig().LocalSlopeMaxAngleDeg, 1e-9)
}

func TestFilter_EchoesHeaderAndExtractsObjects(t *testing.T) {
	f := newTestFilter(t)
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cloud := PointCloud{
		Header: FrameHeader{FrameID: "sensor/top", Stamp: stamp, Seq: 41},
		Points: []Point3D{
			{X: 5},            // ground, seeded from the virtual point
			{X: 5.1, Z: 0.05}, // ground continuity
			{X: -3, Z: 2},     // steep riser in the rear half
		},
	}

	out, err := f.Filter(cloud)
	require.NoError(t, err)
	assert.Equal(t, cloud.Header, out.Header)
	if diff := cmp.Diff([]Point3D{{X: -3, Z: 2}}, out.Points); diff != "" {
		t.Errorf("object points mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_SweepOrderOutput(t *testing.T) {
	f := newTestFilter(t)
	// Input order deliberately differs from sector/radius order.
	points := []Point3D{
		{X: 0, Y: -3, Z: 2}, // sector 180
		{X: 2, Y: 0, Z: 3},  // sector 90, farther
		{X: 1, Y: 0, Z: 2},  // sector 90, nearer
	}
	indices, err := f.ClassifyIndices(points)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{2, 1, 0}, indices); diff != "" {
		t.Errorf("indices mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_RejectsNonFinite(t *testing.T) {
	f := newTestFilter(t)
	cloud := PointCloud{
		Header: FrameHeader{FrameID: "f", Seq: 3},
		Points: []Point3D{{X: 1}, {X: math.NaN(), Y: 1}, {X: 2, Z: math.Inf(-1)}},
	}

	out, err := f.Filter(cloud)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "point 1")
	assert.Empty(t, out.Points)

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, int64(0), stats.Passes)
}

func TestFilter_EmptyCloud(t *testing.T) {
	f := newTestFilter(t)
	out, err := f.Filter(PointCloud{Header: FrameHeader{FrameID: "empty"}})
	require.NoError(t, err)
	assert.Equal(t, "empty", out.Header.FrameID)
	assert.Empty(t, out.Points)
}

func TestApplyConfig_RecomputesDividers(t *testing.T) {
	f := newTestFilter(t)
	points := randomCloud(2000, 11)

	before, err := f.ClassifyIndices(points)
	require.NoError(t, err)
	coarse, _ := classifyAll(f.Params(), testWheelBase, points)
	if diff := cmp.Diff(coarse, before); diff != "" {
		t.Errorf("1 degree pass mismatch:\n%s", diff)
	}
	assert.Equal(t, 360, f.RadialDividersNum())

	require.NoError(t, f.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(0.5)}))
	assert.Equal(t, 720, f.RadialDividersNum())
	assert.InDelta(t, deg2rad(0.5), f.Params().RadialDividerAngleRad, 1e-12)

	// Other fields are untouched by a partial update.
	assert.InDelta(t, deg2rad(6), f.Params().LocalSlopeMaxAngleRad, 1e-12)

	after, err := f.ClassifyIndices(points)
	require.NoError(t, err)
	fine, sectors := classifyAll(f.Params(), testWheelBase, points)
	assert.Len(t, sectors, 720)
	if diff := cmp.Diff(fine, after); diff != "" {
		t.Errorf("0.5 degree pass mismatch:\n%s", diff)
	}
}

func TestApplyConfig_RejectsWholeUpdate(t *testing.T) {
	f := newTestFilter(t)
	want := f.Params()

	err := f.ApplyConfig(&config.GroundConfig{
		LocalSlopeMaxAngleDeg: ptr(3.0),
		RadialDividerAngleDeg: ptr(0.0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "radial_divider_angle_deg")
	assert.Equal(t, want, f.Params(), "a rejected update must not apply any field")
	assert.Equal(t, 360, f.RadialDividersNum())

	err = f.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(1e-300)})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 360, f.RadialDividersNum())
	_, err = f.Filter(PointCloud{Points: randomCloud(100, 3)})
	assert.NoError(t, err)

	assert.NoError(t, f.ApplyConfig(nil))
}

func TestSetParams_RejectsTinyDivider(t *testing.T) {
	f := newTestFilter(t)
	p := f.Params()
	p.RadialDividerAngleRad = 1e-300
	require.ErrorIs(t, f.SetParams(p), ErrInvalidConfig)

	p.RadialDividerAngleRad = deg2rad(config.MinRadialDividerAngleDeg)
	require.NoError(t, f.SetParams(p))
	assert.InDelta(t, 36000, f.RadialDividersNum(), 1)
}

func TestApplyConfig_VirtualGroundPoint(t *testing.T) {
	f := newTestFilter(t)
	// Seeded from (wheel_base, 0, 0) the local slope is steep; seeded from
	// the origin it is under the local threshold.
	points := []Point3D{{X: 3, Z: 0.3}}

	got, err := f.ClassifyIndices(points)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got)

	require.NoError(t, f.ApplyConfig(&config.GroundConfig{UseVirtualGroundPoint: ptr(false)}))
	got, err = f.ClassifyIndices(points)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetVehicleInfo(t *testing.T) {
	f := newTestFilter(t)
	points := []Point3D{{X: 3, Z: 0.3}}

	require.NoError(t, f.SetVehicleInfo(vehicle.Info{WheelBaseM: 0}))
	assert.Equal(t, 0.0, f.WheelBase())
	got, err := f.ClassifyIndices(points)
	require.NoError(t, err)
	assert.Empty(t, got)

	err = f.SetVehicleInfo(vehicle.Info{WheelBaseM: math.NaN()})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0.0, f.WheelBase())
}

func TestSetParams(t *testing.T) {
	f := newTestFilter(t)

	p := DefaultScanGroundParams()
	p.RadialDividerAngleRad = deg2rad(2)
	require.NoError(t, f.SetParams(p))
	assert.Equal(t, 180, f.RadialDividersNum())

	bad := p
	bad.RadialDividerAngleRad = -1
	require.ErrorIs(t, f.SetParams(bad), ErrInvalidConfig)
	assert.Equal(t, p, f.Params())
}

func TestStats(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetStep(5 * time.Millisecond)
	f := newTestFilter(t, WithClock(clock))

	_, err := f.ClassifyIndices([]Point3D{{X: 1}, {X: 1, Z: 2}})
	require.NoError(t, err)
	_, err = f.ClassifyIndices([]Point3D{{X: 2, Y: 2}})
	require.NoError(t, err)

	stats := f.Stats()
	assert.Equal(t, int64(2), stats.Passes)
	assert.Equal(t, int64(3), stats.PointsIn)
	assert.Equal(t, int64(1), stats.PointsNonGround)
	assert.Equal(t, 5*time.Millisecond, stats.LastPassDuration)
	assert.InDelta(t, 1.0/3.0, stats.NonGroundFraction(), 1e-12)

	f.ResetStats()
	assert.Equal(t, FilterStats{}, f.Stats())
	assert.Equal(t, 0.0, f.Stats().NonGroundFraction())
}

func TestLogStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)
	defer SetLogWriters(nil, nil, nil)

	f := newTestFilter(t)
	require.NoError(t, f.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(2.0)}))
	_, err := f.ClassifyIndices([]Point3D{{X: 1}})
	require.NoError(t, err)
	_ = f.ApplyConfig(&config.GroundConfig{SplitHeightDistance: ptr(-1.0)})

	if !strings.Contains(diag.String(), "radial_dividers_num to: 180") {
		t.Errorf("diag stream missing divider update: %q", diag.String())
	}
	if !strings.Contains(trace.String(), "[l4perception]") || !strings.Contains(trace.String(), "points=1") {
		t.Errorf("trace stream missing pass line: %q", trace.String())
	}
	if !strings.Contains(ops.String(), "rejected configuration update") {
		t.Errorf("ops stream missing rejection: %q", ops.String())
	}
}

func TestFilter_ConcurrentUpdatesDoNotTear(t *testing.T) {
	points := randomCloud(3000, 5)

	fine := newTestFilter(t)
	wantFine, err := fine.ClassifyIndices(points)
	require.NoError(t, err)

	coarse := newTestFilter(t)
	require.NoError(t, coarse.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(3.0), LocalSlopeMaxAngleDeg: ptr(3.0)}))
	wantCoarse, err := coarse.ClassifyIndices(points)
	require.NoError(t, err)

	f := newTestFilter(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		toggle := false
		for {
			select {
			case <-stop:
				return
			default:
			}
			if toggle {
				_ = f.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(1.0), LocalSlopeMaxAngleDeg: ptr(6.0)})
			} else {
				_ = f.ApplyConfig(&config.GroundConfig{RadialDividerAngleDeg: ptr(3.0), LocalSlopeMaxAngleDeg: ptr(3.0)})
			}
			toggle = !toggle
		}
	}()

	for i := 0; i < 20; i++ {
		got, err := f.ClassifyIndices(points)
		require.NoError(t, err)
		if cmp.Diff(wantFine, got) != "" && cmp.Diff(wantCoarse, got) != "" {
			t.Fatalf("pass %d matched neither configuration", i)
		}
	}
	close(stop)
	wg.Wait()
}
