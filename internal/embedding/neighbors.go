package embedding

import "sort"

// Neighbor is a node and its cosine similarity to a query node.
type Neighbor struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// MostSimilar finds the nodes most similar to id, excluding id itself.
// Results are sorted by similarity (highest first, ties by ID) and keep only
// similarities of at least minSim. A limit of 0 returns every match.
// Returns ErrUnknownNode if id has no vector.
func MostSimilar(s Store, id string, limit int, minSim float64) ([]Neighbor, error) {
	vec, err := s.Vector(id)
	if err != nil {
		return nil, err
	}
	return rank(s, vec, id, limit, minSim)
}

func rank(s Store, vec []float32, exclude string, limit int, minSim float64) ([]Neighbor, error) {
	ids := s.IDs()
	results := make([]Neighbor, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue // Skip the query node
		}
		v, err := s.Vector(id)
		if err != nil {
			return nil, err
		}
		sim := Cosine(vec, v)
		if sim >= minSim {
			results = append(results, Neighbor{ID: id, Similarity: sim})
		}
	}

	// Sort by similarity descending
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	// Apply limit
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
