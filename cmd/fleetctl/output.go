package main

import (
	"encoding/json"
	"fmt"
)

// printResult renders a command's result as JSON when --json is set, or
// a short human summary line (plus the full structure) otherwise. Every
// subcommand builds its result as a plain map so they share this one
// rendering path.
func printResult(data map[string]interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if jsonOutput {
		fmt.Println(string(b))
		return nil
	}
	for _, key := range []string{"status", "grade", "score", "id", "event_type"} {
		if v, ok := data[key]; ok {
			fmt.Printf("%s: %v\n", key, v)
		}
	}
	fmt.Println(string(b))
	return nil
}
