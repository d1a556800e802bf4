package marketmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Gauges holds point-in-time marketplace totals read from the store.
type Gauges struct {
	registry *prometheus.Registry

	offerings        *prometheus.GaugeVec
	activeRentals    *prometheus.GaugeVec
	escrowHeld       prometheus.Gauge
	computeProviders prometheus.Gauge
	usageRecords     *prometheus.GaugeVec
}

// NewGauges creates the gauges on a dedicated registry and mirrors them on
// registerer when it is set.
func NewGauges(registerer prometheus.Registerer) (*Gauges, error) {
	g := &Gauges{
		registry: prometheus.NewRegistry(),
		offerings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmarket_offerings",
			Help: "Registered offerings by activity.",
		}, []string{"active"}),
		activeRentals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmarket_rentals_active",
			Help: "Active rentals by kind.",
		}, []string{"kind"}),
		escrowHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentmarket_escrow_held_amount",
			Help: "Funds currently held in escrow across all rentals.",
		}),
		computeProviders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentmarket_compute_providers",
			Help: "Registered compute providers.",
		}),
		usageRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmarket_usage_records",
			Help: "Usage records by verification state.",
		}, []string{"verified"}),
	}

	collectors := []prometheus.Collector{g.offerings, g.activeRentals, g.escrowHeld, g.computeProviders, g.usageRecords}
	for _, c := range collectors {
		if err := g.registry.Register(c); err != nil {
			return nil, err
		}
		if registerer != nil {
			if err := registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Registry returns the registry holding only the marketplace gauges.
func (g *Gauges) Registry() *prometheus.Registry {
	return g.registry
}

type boolCount struct {
	Flag  bool
	Total int64
}

type kindCount struct {
	Kind  string
	Total int64
}

// Refresh reloads every gauge from db.
func (g *Gauges) Refresh(ctx context.Context, db *gorm.DB) error {
	if g == nil || db == nil {
		return nil
	}
	db = db.WithContext(ctx)

	var offerings []boolCount
	if err := db.Table("offerings").
		Select("active AS flag, COUNT(*) AS total").
		Group("active").
		Scan(&offerings).Error; err != nil {
		return err
	}
	g.offerings.Reset()
	g.offerings.WithLabelValues("true").Set(0)
	g.offerings.WithLabelValues("false").Set(0)
	for _, row := range offerings {
		g.offerings.WithLabelValues(boolLabel(row.Flag)).Set(float64(row.Total))
	}

	var rentals []kindCount
	if err := db.Table("rentals").
		Select("kind, COUNT(*) AS total").
		Where("status = ?", "ACTIVE").
		Group("kind").
		Scan(&rentals).Error; err != nil {
		return err
	}
	g.activeRentals.Reset()
	for _, row := range rentals {
		g.activeRentals.WithLabelValues(row.Kind).Set(float64(row.Total))
	}

	var held int64
	if err := db.Table("escrow_accounts").
		Select("COALESCE(SUM(locked - released - refunded), 0)").
		Scan(&held).Error; err != nil {
		return err
	}
	g.escrowHeld.Set(float64(held))

	var providers int64
	if err := db.Table("compute_providers").Where("registered = ?", true).Count(&providers).Error; err != nil {
		return err
	}
	g.computeProviders.Set(float64(providers))

	var records []boolCount
	if err := db.Table("usage_records").
		Select("verified AS flag, COUNT(*) AS total").
		Group("verified").
		Scan(&records).Error; err != nil {
		return err
	}
	g.usageRecords.Reset()
	for _, row := range records {
		g.usageRecords.WithLabelValues(boolLabel(row.Flag)).Set(float64(row.Total))
	}
	return nil
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
