// Package report renders code cache diagnostics as an HTML page.
package report

import (
	"fmt"
	"io"
	"slices"

	"github.com/colorfulnotion/gekko/common"
	"github.com/colorfulnotion/gekko/jit/blockcache"
	"github.com/colorfulnotion/gekko/jit/codecache"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Source is what a report is collected from; *jit.Engine satisfies it.
type Source interface {
	Allocator() *codecache.Allocator
	BlockCache() *blockcache.BlockCache
}

// PoolUsage is the occupancy of one code region.
type PoolUsage struct {
	Pool       codecache.Pool
	Size       uintptr
	Free       uintptr
	Live       uintptr
	FreeRanges int
	Largest    uintptr
}

// Bucket counts blocks whose near code is smaller than Limit bytes. The
// last bucket has Limit 0 and takes everything else.
type Bucket struct {
	Limit uintptr
	Count int
}

func (b Bucket) Label() string {
	if b.Limit == 0 {
		return "larger"
	}
	return "< " + common.HumanSize(uint64(b.Limit))
}

type blockLink struct {
	from, to uint32
}

// CacheReport is a snapshot of the code cache.
type CacheReport struct {
	Near, Far    PoolUsage
	Blocks       int
	Instructions int
	Links        int
	Linked       int
	Histogram    []Bucket

	blockAddrs []uint32
	links      []blockLink
}

var bucketLimits = []uintptr{64, 128, 256, 512, 1024, 2048, 4096, 0}

// Collect takes a snapshot of src. Live bytes are everything not free, so
// spans of invalidated blocks still count until the next compile returns
// them.
func Collect(src Source) *CacheReport {
	a := src.Allocator()
	r := &CacheReport{Near: usage(a, codecache.Near), Far: usage(a, codecache.Far)}
	for _, l := range bucketLimits {
		r.Histogram = append(r.Histogram, Bucket{Limit: l})
	}
	blocks := src.BlockCache().Blocks()
	r.Blocks = len(blocks)
	for _, b := range blocks {
		r.Instructions += b.OriginalSize
		r.blockAddrs = append(r.blockAddrs, b.EffectiveAddress)
		size := b.Near.Size()
		for i := range r.Histogram {
			if r.Histogram[i].Limit == 0 || size < r.Histogram[i].Limit {
				r.Histogram[i].Count++
				break
			}
		}
		for _, l := range b.Links {
			r.Links++
			if l.Linked {
				r.Linked++
			}
			r.links = append(r.links, blockLink{from: b.EffectiveAddress, to: l.ExitAddress})
		}
	}
	slices.Sort(r.blockAddrs)
	return r
}

func usage(a *codecache.Allocator, p codecache.Pool) PoolUsage {
	set := a.Set(p)
	u := PoolUsage{Pool: p, Size: a.Region(p).Size(), Free: a.Free(p), Live: a.Used(p), FreeRanges: set.Len()}
	if l, ok := set.Largest(); ok {
		u.Largest = l.Size()
	}
	return u
}

// Fragmentation is the share of free bytes outside the largest free span.
func (u PoolUsage) Fragmentation() float64 {
	if u.Free == 0 {
		return 0
	}
	return 1 - float64(u.Largest)/float64(u.Free)
}

func (u PoolUsage) String() string {
	return fmt.Sprintf("%s: %s live, %s free in %d ranges (largest %s)", u.Pool,
		common.HumanSize(uint64(u.Live)), common.HumanSize(uint64(u.Free)), u.FreeRanges, common.HumanSize(uint64(u.Largest)))
}

func (r *CacheReport) occupancy() *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Code cache occupancy",
			Subtitle: fmt.Sprintf("%d blocks, %d guest instructions", r.Blocks, r.Instructions),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	for _, u := range []PoolUsage{r.Near, r.Far} {
		pie.AddSeries(u.Pool.String(), []opts.PieData{
			{Name: u.Pool.String() + " live", Value: u.Live},
			{Name: u.Pool.String() + " free", Value: u.Free},
		})
	}
	return pie
}

func (r *CacheReport) histogram() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Block sizes", Subtitle: "near code bytes per block"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labels := make([]string, 0, len(r.Histogram))
	data := make([]opts.BarData, 0, len(r.Histogram))
	for _, b := range r.Histogram {
		labels = append(labels, b.Label())
		data = append(data, opts.BarData{Value: b.Count})
	}
	bar.SetXAxis(labels).AddSeries("blocks", data)
	return bar
}

// linkGraph draws blocks as nodes and exits as edges; exits to addresses
// with no block are left out.
func (r *CacheReport) linkGraph() *charts.Graph {
	g := charts.NewGraph()
	g.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Block links",
			Subtitle: fmt.Sprintf("%d of %d exits linked", r.Linked, r.Links),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	known := make(map[uint32]bool, len(r.blockAddrs))
	nodes := make([]opts.GraphNode, 0, len(r.blockAddrs))
	for _, a := range r.blockAddrs {
		known[a] = true
		nodes = append(nodes, opts.GraphNode{Name: common.Hex32(a)})
	}
	links := make([]opts.GraphLink, 0, len(r.links))
	for _, l := range r.links {
		if known[l.to] {
			links = append(links, opts.GraphLink{Source: common.Hex32(l.from), Target: common.Hex32(l.to)})
		}
	}
	g.AddSeries("links", nodes, links).SetSeriesOptions(
		charts.WithGraphChartOpts(opts.GraphChart{
			Force:  &opts.GraphForce{Repulsion: 1000, Gravity: 0.3},
			Layout: "force",
			Roam:   opts.Bool(true),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)
	return g
}

// Render writes the report as a self-contained HTML page.
func (r *CacheReport) Render(w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = "gekko code cache"
	page.AddCharts(r.occupancy(), r.histogram(), r.linkGraph())
	return page.Render(w)
}
