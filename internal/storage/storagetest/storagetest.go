// Package storagetest provides fixtures shared by the storage backend tests.
package storagetest

import (
	"time"

	"github.com/FranksOps/rankscout/internal/model"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

// SampleRun returns a finished run with two listings for one task, one of
// them a local-pack brand match, and a not-found sentinel for a second task.
func SampleRun(id string, at time.Time) *model.RunResult {
	at = at.UTC().Truncate(time.Microsecond)
	locale := model.Locale{Country: "gb", Language: "en", Device: model.DeviceDesktop}

	run := &model.RunResult{
		ID:           id,
		Status:       model.StatusCompleted,
		Locale:       locale,
		TotalQueries: 2,
		APICallsMade: 3,
		StartedAt:    at,
		FinishedAt:   at.Add(3 * time.Second),
		Observations: []*model.Observation{
			{
				ID:                id + "-1",
				Keyword:           "dentist london",
				BrandName:         "Bright Smile",
				BranchName:        "London",
				Title:             "Acme Dental",
				Address:           "1 High St, London",
				Rating:            4.2,
				RatingCount:       31,
				Category:          "Dentist",
				RankPosition:      intPtr(1),
				IsLocalPack:       true,
				LocalPackPosition: intPtr(1),
				DeviceType:        locale.Device,
				Country:           locale.Country,
				Language:          locale.Language,
				Page:              1,
				SourceLatitude:    floatPtr(51.4624),
				SourceLongitude:   floatPtr(-0.2),
				CreatedAt:         at,
			},
			{
				ID:                id + "-2",
				Keyword:           "dentist london",
				BrandName:         "Bright Smile",
				BranchName:        "London",
				Title:             "Bright Smile Dental London",
				Address:           "2 High St, London",
				Rating:            4.8,
				RatingCount:       120,
				Category:          "Dentist",
				Phone:             "020 7946 0000",
				Website:           "https://brightsmile.example",
				CID:               "123",
				RankPosition:      intPtr(2),
				IsLocalPack:       true,
				LocalPackPosition: intPtr(2),
				BrandMatch:        true,
				DeviceType:        locale.Device,
				Country:           locale.Country,
				Language:          locale.Language,
				Page:              1,
				SourceLatitude:    floatPtr(51.4624),
				SourceLongitude:   floatPtr(-0.2),
				CreatedAt:         at,
			},
			{
				ID:         id + "-3",
				Keyword:    "estate agent belfast",
				BrandName:  "Property People",
				BranchName: "Belfast",
				Title:      model.NotFoundTitle,
				NotFound:   true,
				DeviceType: locale.Device,
				Country:    locale.Country,
				Language:   locale.Language,
				CreatedAt:  at.Add(time.Second),
			},
		},
	}
	run.ProcessedQueries = 2
	run.ElapsedSeconds = 3
	run.Tally()
	return run
}

// Diff lists the fields on which got differs from want. Times are compared
// with Equal; pointers by value.
func Diff(want, got *model.Observation) []string {
	var d []string
	check := func(field string, ok bool) {
		if !ok {
			d = append(d, field)
		}
	}
	check("id", want.ID == got.ID)
	check("run_id", want.RunID == got.RunID)
	check("seq", want.Seq == got.Seq)
	check("keyword", want.Keyword == got.Keyword)
	check("brand_name", want.BrandName == got.BrandName)
	check("branch_name", want.BranchName == got.BranchName)
	check("title", want.Title == got.Title)
	check("address", want.Address == got.Address)
	check("rating", want.Rating == got.Rating)
	check("rating_count", want.RatingCount == got.RatingCount)
	check("category", want.Category == got.Category)
	check("phone", want.Phone == got.Phone)
	check("website", want.Website == got.Website)
	check("cid", want.CID == got.CID)
	check("rank_position", eqPtr(want.RankPosition, got.RankPosition))
	check("is_local_pack", want.IsLocalPack == got.IsLocalPack)
	check("local_pack_position", eqPtr(want.LocalPackPosition, got.LocalPackPosition))
	check("brand_match", want.BrandMatch == got.BrandMatch)
	check("not_found", want.NotFound == got.NotFound)
	check("device_type", want.DeviceType == got.DeviceType)
	check("country", want.Country == got.Country)
	check("language", want.Language == got.Language)
	check("page", want.Page == got.Page)
	check("source_latitude", eqPtr(want.SourceLatitude, got.SourceLatitude))
	check("source_longitude", eqPtr(want.SourceLongitude, got.SourceLongitude))
	check("created_at", want.CreatedAt.Equal(got.CreatedAt))
	return d
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
