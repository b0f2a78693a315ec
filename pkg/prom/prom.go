package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	xhttp "github.com/territorios-app/territorios/pkg/http"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemPhones      = "phones"
	SystemImports     = "imports"
	SystemTerritories = "territories"
)

const (
	MetricPhonesExported      = "exported_total"
	MetricPoolResets          = "pool_resets_total"
	MetricPoolRecords         = "pool_records"
	MetricImportRows          = "rows_total"
	MetricImportDuration      = "duration_seconds"
	MetricImportJobs          = "jobs_total"
	MetricAssignmentConflicts = "assignment_conflicts_total"
	MetricLedgerOperations    = "operations_total"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogram = make(map[string]prometheus.Histogram)

var defaultLabels prometheus.Labels

// Create registers every metric of the service. Until it is called the
// recording helpers are no-ops.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounter(SystemPhones, MetricPhonesExported))
	hasError(createCounter(SystemPhones, MetricPoolResets))
	hasError(createGaugeVec(SystemPhones, MetricPoolRecords, []string{"state"}))

	hasError(createCounterVec(SystemImports, MetricImportRows, []string{"result"}))
	hasError(createHistogram(SystemImports, MetricImportDuration))
	hasError(createCounterVec(SystemImports, MetricImportJobs, []string{"state"}))

	hasError(createCounter(SystemTerritories, MetricAssignmentConflicts))
	hasError(createCounterVec(SystemTerritories, MetricLedgerOperations, []string{"op"}))

	MetricSystemEnabled = err == nil
	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url, "port", port)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func register(c prometheus.Collector) error {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	})
	return register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogram(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogram[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	return register(MetricCollectionHistogram[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return register(MetricCollectionGaugeVec[subsystem+name])
}

func AddCounter(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncCounter(subsystem, name string) {
	AddCounter(subsystem, name, 1)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func AddHistogram(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogram[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func AddPhonesExported(n int) {
	AddCounter(SystemPhones, MetricPhonesExported, float64(n))
}

func IncPoolReset() {
	IncCounter(SystemPhones, MetricPoolResets)
}

func SetPoolRecords(state string, n int) {
	SetGaugeVec(SystemPhones, MetricPoolRecords, float64(n), state)
}

func AddImportRows(result string, n int) {
	if n == 0 {
		return
	}
	AddCounterVec(SystemImports, MetricImportRows, float64(n), result)
}

func ObserveImportDuration(seconds float64) {
	AddHistogram(SystemImports, MetricImportDuration, seconds)
}

// IncImportJob counts asynchronous import jobs by the state they reached.
func IncImportJob(state string) {
	AddCounterVec(SystemImports, MetricImportJobs, 1, state)
}

func IncAssignmentConflict() {
	IncCounter(SystemTerritories, MetricAssignmentConflicts)
}

func IncLedgerOperation(op string) {
	AddCounterVec(SystemTerritories, MetricLedgerOperations, 1, op)
}
