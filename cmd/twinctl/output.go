package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/c360/semtwin/snapshot"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeProviders(w io.Writer, providers []*snapshot.ProviderSnapshot) error {
	for _, p := range providers {
		header := p.Name
		if p.Location != nil {
			header += fmt.Sprintf(" (model %s, location %.5f,%.5f)", p.Model, p.Location.Latitude, p.Location.Longitude)
		} else {
			header += fmt.Sprintf(" (model %s)", p.Model)
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for _, r := range p.Resources() {
			if _, err := fmt.Fprintf(w, "  %s/%s = %s\n", r.Service().Name, r.Name, formatValue(r)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d provider(s) matched\n", len(providers))
	return err
}

func formatValue(r *snapshot.ResourceSnapshot) string {
	if r.Kind == snapshot.KindAction {
		return "<action>"
	}
	if !r.IsSet() {
		return "<unset>"
	}
	data, err := json.Marshal(r.Value.Value)
	if err != nil {
		data = []byte(fmt.Sprint(r.Value.Value))
	}
	return string(data) + " @ " + r.Value.Timestamp.UTC().Format(time.RFC3339)
}
