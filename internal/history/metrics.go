package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage labels.
const (
	stageSnapshot = "snapshot"
	stageBaseline = "baseline"
	stageResolve  = "resolve"
	stageDiff     = "diff"
	stagePersist  = "persist"
	stageCascade  = "cascade"
)

var (
	// patchesCreated counts persisted patch records.
	// Labels: collection (patch model name), pathway (mutation kind)
	patchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhistory",
		Subsystem: "tracker",
		Name:      "patches_created_total",
		Help:      "Total patch records created",
	}, []string{"collection", "pathway"})

	// patchesSkipped counts changes that produced no patch.
	// Labels: collection, reason (empty_diff, not_modified, no_target)
	patchesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhistory",
		Subsystem: "tracker",
		Name:      "patches_skipped_total",
		Help:      "Total tracked writes that produced no patch record",
	}, []string{"collection", "reason"})

	// patchesDeleted counts patch records removed by cascades.
	// Labels: collection
	patchesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhistory",
		Subsystem: "tracker",
		Name:      "patches_deleted_total",
		Help:      "Total patch records deleted with their documents",
	}, []string{"collection"})

	// pipelineErrors counts failed pipeline stages.
	// Labels: collection, pathway, stage
	pipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "patchhistory",
		Subsystem: "tracker",
		Name:      "pipeline_errors_total",
		Help:      "Total tracked writes failed by a history pipeline stage",
	}, []string{"collection", "pathway", "stage"})
)
