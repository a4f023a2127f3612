package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/percolate-dev/percolate-core/internal/executor"
	"github.com/percolate-dev/percolate-core/internal/model"
)

func parseProperties(raw string) (map[string]any, error) {
	var properties map[string]any
	if err := json.Unmarshal([]byte(raw), &properties); err != nil {
		return nil, err
	}
	return properties, nil
}

var insertCmd = &cobra.Command{
	Use:   "insert <schema> <properties-json>",
	Short: "Insert a new entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		properties, err := parseProperties(args[1])
		if err != nil {
			return err
		}
		e, err := h.Insert(cmd.Context(), args[0], properties)
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id> <properties-json>",
	Short: "Update an existing entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		properties, err := parseProperties(args[1])
		if err != nil {
			return err
		}
		e, err := h.Update(cmd.Context(), args[0], properties)
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Soft-delete an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		if err := h.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch an entity by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		e, err := h.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(e)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <schema> <key-value>",
	Short: "Look up an entity by its schema's key field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		results, err := h.Lookup(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(resultEntities(results))
	},
}

var (
	searchTopK int
	searchEf   int
)

var searchCmd = &cobra.Command{
	Use:   "search <schema> <query-text>",
	Short: "Vector nearest-neighbor search",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		results, err := h.Search(cmd.Context(), args[0], args[1], searchTopK, searchEf)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SQL-subset query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		results, err := h.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var (
	traverseDirection string
	traverseEdgeType  string
	traverseDepth     int
	traverseLimit     int
)

var traverseCmd = &cobra.Command{
	Use:   "traverse <start-id>",
	Short: "Walk the edge graph from a starting entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		results, err := h.Traverse(cmd.Context(), args[0], traverseDirection, traverseEdgeType, traverseDepth, traverseLimit)
		if err != nil {
			return err
		}
		return printJSON(resultEntities(results))
	},
}

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Manage edges between entities",
}

var (
	edgeProperties string
	edgeWeight     float32
)

var edgeAddCmd = &cobra.Command{
	Use:   "add <src> <dst> <type>",
	Short: "Add or upsert a directed, typed edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		var properties map[string]any
		if edgeProperties != "" {
			properties, err = parseProperties(edgeProperties)
			if err != nil {
				return err
			}
		}
		if err := h.AddEdge(args[0], args[1], args[2], properties, edgeWeight); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var edgeDeleteCmd = &cobra.Command{
	Use:   "delete <src> <dst> <type>",
	Short: "Delete a directed, typed edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := requireHandle()
		if err != nil {
			return err
		}
		if err := h.DeleteEdge(args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "number of results to return")
	searchCmd.Flags().IntVar(&searchEf, "ef", 0, "HNSW search breadth (defaults to top-k)")

	traverseCmd.Flags().StringVar(&traverseDirection, "direction", "out", "out or in")
	traverseCmd.Flags().StringVar(&traverseEdgeType, "edge-type", "", "filter to one edge type")
	traverseCmd.Flags().IntVar(&traverseDepth, "depth", 1, "traversal depth")
	traverseCmd.Flags().IntVar(&traverseLimit, "limit", 0, "cap on visited entities, 0 means unbounded")

	edgeAddCmd.Flags().StringVar(&edgeProperties, "properties", "", "edge properties as JSON")
	edgeAddCmd.Flags().Float32Var(&edgeWeight, "weight", 0, "edge weight")
	edgeCmd.AddCommand(edgeAddCmd, edgeDeleteCmd)
}

// resultEntities drops the score column for operations that return plain
// entities rather than (entity, score) pairs.
func resultEntities(results []executor.Result) []*model.Entity {
	out := make([]*model.Entity, len(results))
	for i, r := range results {
		out[i] = r.Entity
	}
	return out
}
