// Package api serves the result-query operations over HTTP. Records are
// returned with op_status verbatim, pending included, so callers can
// distinguish "still processing" from a final outcome.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/cat-wrangler/internal/client"
	"github.com/example/cat-wrangler/internal/record"
	"github.com/example/cat-wrangler/internal/store"
)

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, results *client.ResultService, st store.Store, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	guarded := router.Group("/", authMiddleware)

	guarded.GET("/result/:batchid/:fprint", func(c *gin.Context) {
		batchID, ok := parseBatchID(c)
		if !ok {
			return
		}

		rec, err := results.Result(c.Request.Context(), batchID, c.Param("fprint"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	guarded.GET("/batch/:batchid", func(c *gin.Context) {
		batchID, ok := parseBatchID(c)
		if !ok {
			return
		}

		tr, ok := parseTimeRange(c)
		if !ok {
			return
		}

		records, err := st.QueryByBatch(c.Request.Context(), batchID, tr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "records": records})
	})

	guarded.GET("/client/:clientid", func(c *gin.Context) {
		tr, ok := parseTimeRange(c)
		if !ok {
			return
		}

		clientID := c.Param("clientid")
		records, err := st.QueryByClient(c.Request.Context(), clientID, tr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"client_id": clientID, "records": records})
	})

	guarded.GET("/cats", func(c *gin.Context) {
		tr, ok := parseTimeRange(c)
		if !ok {
			return
		}

		isCat := true
		if raw := c.Query("is_cat"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "is_cat must be a boolean"})
				return
			}
			isCat = parsed
		}

		records, err := st.QueryByCatFlag(c.Request.Context(), isCat, tr)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"is_cat": isCat, "records": records})
	})

	guarded.GET("/batch/:batchid/summary", func(c *gin.Context) {
		batchID, ok := parseBatchID(c)
		if !ok {
			return
		}

		records, err := st.QueryByBatch(c.Request.Context(), batchID, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summarizeBatch(batchID, records))
	})

	guarded.GET("/batch/:batchid/status/:status", func(c *gin.Context) {
		batchID, ok := parseBatchID(c)
		if !ok {
			return
		}

		status := record.Status(c.Param("status"))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}

		records, err := st.QueryByBatchAndStatus(c.Request.Context(), batchID, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "op_status": status, "records": records})
	})
}

// BatchMetrics aggregates one batch's processing state.
type BatchMetrics struct {
	BatchID int64 `json:"batch_id"`
	Total   int   `json:"total"`
	Pending int   `json:"pending"`
	Success int   `json:"success"`
	Fail    int   `json:"fail"`

	// CatRate is the fraction of classified images matched as cats,
	// over terminal successes only.
	CatRate float64 `json:"cat_rate"`
}

func summarizeBatch(batchID int64, records []record.ImageRecord) *BatchMetrics {
	m := &BatchMetrics{BatchID: batchID, Total: len(records)}
	cats := 0
	for _, rec := range records {
		switch rec.OpStatus {
		case record.StatusSuccess:
			m.Success++
			if rec.IsCat != nil && *rec.IsCat {
				cats++
			}
		case record.StatusFail:
			m.Fail++
		default:
			m.Pending++
		}
	}
	if m.Success > 0 {
		m.CatRate = float64(cats) / float64(m.Success)
	}
	return m
}

func parseBatchID(c *gin.Context) (int64, bool) {
	batchID, err := strconv.ParseInt(c.Param("batchid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch id must be an integer"})
		return 0, false
	}
	return batchID, true
}

func parseTimeRange(c *gin.Context) (*store.TimeRange, bool) {
	fromRaw, toRaw := c.Query("from"), c.Query("to")
	if fromRaw == "" && toRaw == "" {
		return nil, true
	}

	from, err := strconv.ParseInt(fromRaw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an epoch timestamp"})
		return nil, false
	}
	to, err := strconv.ParseInt(toRaw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an epoch timestamp"})
		return nil, false
	}
	return &store.TimeRange{From: from, To: to}, true
}
