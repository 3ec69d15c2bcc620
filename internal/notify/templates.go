package notify

import (
	"fmt"
	"html/template"
	"strings"
	"text/tabwriter"

	"catalogexport/internal/models"
)

var htmlTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body>
<h2>{{.Subject}}</h2>
<p>Export <strong>{{.ExportID}}</strong></p>
{{- if .Stats}}
<p>The catalog export is available at <code>{{.StorageKey}}</code>.</p>
<table>
<tr><td>Total products</td><td>{{.Stats.TotalProducts}}</td></tr>
<tr><td>With images</td><td>{{.Stats.WithImages}}</td></tr>
<tr><td>With manufacturer</td><td>{{.Stats.WithManufacturer}}</td></tr>
<tr><td>With category</td><td>{{.Stats.WithCategory}}</td></tr>
</table>
{{- else}}
<p>The catalog export failed:</p>
<pre>{{.Error}}</pre>
{{- end}}
</body>
</html>
`))

func renderHTML(rec models.NotificationRecord) (string, error) {
	var b strings.Builder
	if err := htmlTemplate.Execute(&b, rec); err != nil {
		return "", err
	}
	return b.String(), nil
}

func successText(exportID, storageKey string, stats models.ExportStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Catalog export %s completed.\n\n", exportID)
	fmt.Fprintf(&b, "Storage key: %s\n\n", storageKey)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total products:\t%d\n", stats.TotalProducts)
	fmt.Fprintf(w, "With images:\t%d\n", stats.WithImages)
	fmt.Fprintf(w, "With manufacturer:\t%d\n", stats.WithManufacturer)
	fmt.Fprintf(w, "With category:\t%d\n", stats.WithCategory)
	_ = w.Flush()
	return b.String()
}

func failureText(exportID, errorMessage string) string {
	return fmt.Sprintf("Catalog export %s failed.\n\nError: %s\n", exportID, errorMessage)
}
