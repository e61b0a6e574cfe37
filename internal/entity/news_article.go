package entity

import "time"

// NewsArticle is deduplicated by URL.
type NewsArticle struct {
	URL         string    `json:"url" gorm:"primaryKey" validate:"required,url,utf8"`
	Ticker      string    `json:"ticker" gorm:"size:16;index" validate:"required,max=16,utf8"`
	Title       string    `json:"title" validate:"required,utf8"`
	Source      string    `json:"source" validate:"utf8"`
	PublishedAt time.Time `json:"published_at" validate:"required"`
	Content     string    `json:"content" validate:"utf8"`
}

func (NewsArticle) TableName() string {
	return "news_articles"
}

func (a NewsArticle) SeriesKey() string  { return a.Ticker }
func (a NewsArticle) Time() time.Time    { return a.PublishedAt }
func (a NewsArticle) PrimaryKey() string { return a.URL }

func (a NewsArticle) Validate() error {
	return validateStruct("news article", a)
}

func (a NewsArticle) Clone() NewsArticle {
	a.PublishedAt = a.PublishedAt.UTC()
	return a
}
