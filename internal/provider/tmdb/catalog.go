package tmdb

import "strings"

const placeholderOverview = "Details for this title are not available right now."

var catalogTitles = []string{
	"The Avengers",
	"Inception",
	"The Dark Knight",
	"Interstellar",
	"Spider-Man: Into the Spider-Verse",
	"Mad Max: Fury Road",
	"Joker",
	"The Matrix",
	"Parasite",
	"Jurassic Park",
}

var catalogGenres = []Genre{
	{ID: 28, Name: "Action"},
	{ID: 12, Name: "Adventure"},
	{ID: 16, Name: "Animation"},
}

// catalogDetails picks a stable entry for id so repeated lookups agree.
func catalogDetails(id int) MovieDetails {
	title := catalogTitles[id%len(catalogTitles)]
	return MovieDetails{
		Movie: Movie{
			ID:          id,
			Title:       title,
			Overview:    placeholderOverview,
			ReleaseDate: "2023-01-01",
			VoteAverage: 7.5,
			VoteCount:   100,
			Popularity:  100,
			GenreIDs:    []int{28, 12, 16},
		},
		Genres:  catalogGenres,
		Runtime: 120,
		Status:  "Released",
	}
}

func catalogSearch(query string) MovieResponse {
	q := strings.ToLower(query)
	results := make([]Movie, 0, len(catalogTitles))
	for i, title := range catalogTitles {
		if strings.Contains(strings.ToLower(title), q) {
			results = append(results, catalogDetails(i+len(catalogTitles)).Movie)
		}
	}
	return MovieResponse{
		Page:         1,
		Results:      results,
		TotalPages:   1,
		TotalResults: len(results),
	}
}

// catalogRelated lists every catalog title except the one id resolves to.
func catalogRelated(id int) MovieResponse {
	own := id % len(catalogTitles)
	results := make([]Movie, 0, len(catalogTitles)-1)
	for i := range catalogTitles {
		if i == own {
			continue
		}
		m := catalogDetails(i).Movie
		m.ID = id + 100 + i
		results = append(results, m)
	}
	return MovieResponse{
		Page:         1,
		Results:      results,
		TotalPages:   1,
		TotalResults: len(results),
	}
}
