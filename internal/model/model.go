// Package model holds the domain records exchanged with the remote backend.
// JSON field names follow the backend's column names.
package model

import "strings"

// PendingPrefix marks identifiers of records that exist only locally.
const PendingPrefix = "pending-"

// IsPendingID reports whether id is a local placeholder identifier.
// Such ids must never be sent to the backend as an entity reference.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// Attachment is a binary file carried with an action, usually an image.
type Attachment struct {
	Data     []byte `json:"-"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// Ext returns the filename extension without the dot, or "bin".
func (a *Attachment) Ext() string {
	if i := strings.LastIndexByte(a.Filename, '.'); i >= 0 && i < len(a.Filename)-1 {
		return strings.ToLower(a.Filename[i+1:])
	}
	return "bin"
}

// Record is the common shape of backend rows.
type Record struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// GetID returns the record id.
func (r Record) GetID() string { return r.ID }

type Profile struct {
	Record
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"` // admin | employee
}

// SimilarCase is a reference image attached to a diagnosis.
type SimilarCase struct {
	ID      string `json:"id"`
	Photo   string `json:"photo"`
	Disease string `json:"disease"`
}

// Report is a saved crop diagnosis.
type Report struct {
	Record
	UserID        string        `json:"user_id"`
	UserEmail     string        `json:"user_email"`
	Disease       string        `json:"disease"`
	Confidence    float64       `json:"confidence"`
	Treatment     string        `json:"treatment"`
	AIExplanation string        `json:"ai_explanation"`
	SimilarCases  []SimilarCase `json:"similar_cases"`
	PhotoURL      string        `json:"photo_url"`
}

// Diagnosis is the structured result of an image diagnosis.
type Diagnosis struct {
	IsPlant        bool          `json:"is_plant"`
	IsIdentifiable bool          `json:"is_identifiable"`
	Disease        string        `json:"disease"`
	Confidence     float64       `json:"confidence"`
	Treatment      string        `json:"treatment"`
	AIExplanation  string        `json:"ai_explanation"`
	SimilarCases   []SimilarCase `json:"similar_cases"`
}

// CalendarTask is a seasonal farming task shown on a given day of a month.
type CalendarTask struct {
	Record
	Title         string `json:"title" validate:"required"`
	TitleTE       string `json:"title_te"`
	Description   string `json:"description"`
	DescriptionTE string `json:"description_te"`
	Month         int    `json:"month" validate:"min=1,max=12"`
	DayOfMonth    int    `json:"day_of_month" validate:"min=1,max=31"`
}

// TaskStatus is a user's completion flag for a calendar task.
// The backend keys it on (user_id, task_id).
type TaskStatus struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
	IsDone bool   `json:"is_done"`
}

// GetID returns a composite id, since task statuses have no row id.
func (s TaskStatus) GetID() string { return s.UserID + "/" + s.TaskID }

type Supplier struct {
	Record
	Name     string   `json:"name" validate:"required"`
	District string   `json:"district" validate:"required"`
	Contact  string   `json:"contact"`
	Products []string `json:"products"`
	MapsLink string   `json:"mapsLink"`
}

type Tutorial struct {
	Record
	Title         string `json:"title" validate:"required"`
	TitleTE       string `json:"title_te"`
	Category      string `json:"category" validate:"required"`
	VideoURL      string `json:"videoUrl" validate:"omitempty,url"`
	Thumbnail     string `json:"thumbnail"`
	Description   string `json:"description"`
	DescriptionTE string `json:"description_te"`
}

// PostAuthor is the joined profile name on a community post.
type PostAuthor struct {
	Name string `json:"name"`
}

type Post struct {
	Record
	Content  string      `json:"content"`
	UserID   string      `json:"user_id"`
	PhotoURL string      `json:"photo_url,omitempty"`
	Profiles *PostAuthor `json:"profiles,omitempty"`
}

// KnowledgeAnswer is the answer record for a knowledge-base question.
// It is also the value stored in the knowledge cache, keyed by Question.
type KnowledgeAnswer struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Likes    int      `json:"likes"`
	Dislikes int      `json:"dislikes"`
	Related  []string `json:"related"`
}

type QuestionHistory struct {
	Record
	UserID   string `json:"user_id"`
	Question string `json:"question"`
}

type Bookmark struct {
	Record
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Outcome is a recorded harvest result.
type Outcome struct {
	Record
	UserID      string  `json:"user_id" validate:"required"`
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	CropName    string  `json:"crop_name" validate:"required"`
	YieldAmount float64 `json:"yield_amount" validate:"gte=0"`
	YieldUnit   string  `json:"yield_unit" validate:"required"`
	Revenue     float64 `json:"revenue" validate:"gte=0"`
	Notes       string  `json:"notes,omitempty"`
}

// Severity grades crop disease risk derived from the weather.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

type WeatherRisk struct {
	Severity     Severity `json:"severity"`
	PredictionEN string   `json:"prediction_en"`
	PredictionTE string   `json:"prediction_te"`
}

// CurrentWeather is the latest observation used for risk rating.
type CurrentWeather struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"` // km/h
	CloudCover  float64 `json:"cloud_cover"`
	Pressure    float64 `json:"surface_pressure"`
	WeatherCode int     `json:"weather_code"`
	Description string  `json:"weather_description"`
}

// DailyForecast is one day of weather.
type DailyForecast struct {
	Date        string  `json:"date"`
	TempMax     float64 `json:"temperature_2m_max"`
	TempMin     float64 `json:"temperature_2m_min"`
	WeatherCode int     `json:"weather_code"`
	Description string  `json:"weather_description"`
}

// Forecast is a location's current conditions plus the daily outlook.
type Forecast struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Current   CurrentWeather  `json:"current"`
	Daily     []DailyForecast `json:"daily"`
}

// WeatherSnapshot is the value stored under the weather_forecast cache key.
type WeatherSnapshot struct {
	Forecast Forecast    `json:"forecast"`
	Risk     WeatherRisk `json:"risk"`
}
