package telemetry

import (
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by NewExporter.
const (
	ExporterNone = "none"
	ExporterGCP  = "gcp"
)

// NewExporter builds the span exporter named by kind. "none" and "" return a
// nil exporter, which keeps spans in-process.
func NewExporter(kind, projectID string) (sdktrace.SpanExporter, error) {
	switch kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterGCP:
		if projectID == "" {
			return nil, fmt.Errorf("gcp trace exporter requires a project id")
		}
		exp, err := texporter.New(texporter.WithProjectID(projectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", kind)
	}
}
