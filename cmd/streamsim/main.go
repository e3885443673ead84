// streamsim is a standalone stand-in for the extraction backend during
// local development. It replays a fixture graph as an SSE event stream at
// /jobs/:id/events, pacing one frame per interval, and accepts the
// workbench's mutation patches at /extractions/:id.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

var demoFrames = []string{
	`{"type":"connected"}`,
	`{"type":"graph_update","nodes":[{"id":"aspirin","label":"Aspirin","type":"Drug"},{"id":"headache","label":"Headache","type":"Condition"}],"edges":[{"source":"aspirin","target":"headache","label":"treats","confidence":0.94}]}`,
	`{"type":"graph_update","nodes":[{"id":"ibuprofen","label":"Ibuprofen","type":"Drug"}],"edges":[{"source":"ibuprofen","target":"headache","label":"treats","confidence":0.88},{"source":"aspirin","target":"bleeding","label":"causes","confidence":0.71}]}`,
	`{"type":"graph_update","nodes":[{"id":"bleeding","label":"GI Bleeding","type":"Condition"}],"edges":[]}`,
	`{"type":"complete"}`,
}

func loadFrames() []string {
	path := os.Getenv("FIXTURE_PATH")
	if path == "" {
		return demoFrames
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read fixture %s: %v", path, err)
	}
	var frames []json.RawMessage
	if err := json.Unmarshal(data, &frames); err != nil {
		log.Fatalf("Fixture %s is not a JSON array of events: %v", path, err)
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}

func main() {
	frames := loadFrames()
	interval := 500 * time.Millisecond
	if v := os.Getenv("FRAME_INTERVAL_MS"); v != "" {
		if d, err := time.ParseDuration(v + "ms"); err == nil {
			interval = d
		}
	}

	r := gin.Default()

	r.GET("/jobs/:id/events", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		flusher := c.Writer.(http.Flusher)

		for _, frame := range frames {
			select {
			case <-c.Request.Context().Done():
				return
			case <-time.After(interval):
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
			flusher.Flush()
		}
	})

	r.PATCH("/extractions/:id", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
			return
		}
		log.Printf("patch for job %s (request %s): %s",
			c.Param("id"), c.GetHeader("X-Request-Id"), body)
		c.JSON(http.StatusOK, gin.H{"status": "applied"})
	})

	port := os.Getenv("STREAMSIM_PORT")
	if port == "" {
		port = "9000"
	}
	log.Printf("streamsim replaying %d frames on port %s", len(frames), port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
