package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/coauthor/internal/embedding"
)

var (
	neighborsSetting string
	neighborsLimit   int
	neighborsMinSim  float64
)

func init() {
	neighborsCmd.Flags().StringVarP(&neighborsSetting, "setting", "s", "", "Setting whose embeddings to search (required)")
	neighborsCmd.Flags().IntVarP(&neighborsLimit, "limit", "n", 10, "Maximum number of neighbors (0 for all)")
	neighborsCmd.Flags().Float64Var(&neighborsMinSim, "min-sim", -1, "Minimum cosine similarity")
	neighborsCmd.MarkFlagRequired("setting")
	rootCmd.AddCommand(neighborsCmd)
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <author-id>",
	Short: "List the authors closest to an author in embedding space",
	Args:  cobra.ExactArgs(1),
	RunE:  runNeighbors,
}

// NeighborsResponse is the response for the neighbors command.
type NeighborsResponse struct {
	Setting   string               `json:"setting"`
	Author    string               `json:"author"`
	Neighbors []embedding.Neighbor `json:"neighbors"`
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	s := mustFindSetting(cfg, neighborsSetting)

	store, err := embedding.Load(cfg.KeyedVectorsPath(s), embedding.Options{
		Format: cfg.Embedding.Format,
		Mmap:   cfg.Embedding.Mmap,
	})
	if err != nil {
		exitWithErr(err)
	}
	defer store.Close()

	neighbors, err := embedding.MostSimilar(store, args[0], neighborsLimit, neighborsMinSim)
	if err != nil {
		exitWithErr(err)
	}

	if humanOutput {
		for i, n := range neighbors {
			outputHuman("%d. [%.3f] %s\n", i+1, n.Similarity, n.ID)
		}
		return nil
	}
	return outputJSON(NeighborsResponse{Setting: s.Name(), Author: args[0], Neighbors: neighbors})
}
