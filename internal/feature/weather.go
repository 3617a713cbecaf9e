package feature

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

var (
	riskHigh = model.WeatherRisk{
		Severity:     model.SeverityHigh,
		PredictionEN: "High humidity and warm temperatures create a critical risk for fungal diseases like leaf blight and powdery mildew, especially for tomato and potato crops. Immediate proactive spraying with a copper-based organic fungicide or a Bordeaux mixture is advised. Improve air circulation by pruning lower leaves and monitor crops twice daily for early signs of infection.",
		PredictionTE: "అధిక తేమ మరియు వెచ్చని ఉష్ణోగ్రతలు ఆకు మచ్చ మరియు బూజు తెగులు వంటి శిలీంధ్ర వ్యాధులకు, ముఖ్యంగా టమోటా మరియు బంగాళాదుంప పంటలకు, తీవ్రమైన ప్రమాదాన్ని సృష్టిస్తాయి. రాగి ఆధారిత సేంద్రియ శిలీంద్రనాశకంతో లేదా బోర్డో మిశ్రమంతో వెంటనే ముందుజాగ్రత్తగా పిచికారీ చేయడం మంచిది. దిగువ ఆకులను కత్తిరించడం ద్వారా గాలి ప్రసరణను మెరుగుపరచండి మరియు సంక్రమణ యొక్క ప్రారంభ సంకేతాల కోసం పంటలను రోజుకు రెండుసార్లు పర్యవేక్షించండి.",
	}
	riskMedium = model.WeatherRisk{
		Severity:     model.SeverityMedium,
		PredictionEN: "Moderate humidity with windy conditions can cause rapid spread of pests like aphids, whiteflies, and thrips. We recommend applying a neem oil solution, focusing on the underside of leaves, as a preventative measure. Also, consider setting up yellow sticky traps to monitor pest populations.",
		PredictionTE: "తేమతో కూడిన గాలులు అఫిడ్స్, వైట్‌ఫ్లైస్ మరియు థ్రిప్స్ వంటి పురుగుల వేగవంతమైన వ్యాప్తికి కారణమవుతాయి. నివారణ చర్యగా వేప నూనె ద్రావణాన్ని, ముఖ్యంగా ఆకుల దిగువ భాగంలో, పిచికారీ చేయాలని మేము సిఫార్సు చేస్తున్నాము. పురుగుల జనాభాను పర్యవేక్షించడానికి పసుపు జిగురు ట్రాప్‌లను ఏర్పాటు చేయడాన్ని కూడా పరిగణించండి.",
	}
	riskLow = model.WeatherRisk{
		Severity:     model.SeverityLow,
		PredictionEN: "Current weather conditions are favorable. The risk of disease or significant pest outbreak is low. Continue with standard watering and soil management. This is an ideal time for transplanting seedlings or applying compost to enrich the soil.",
		PredictionTE: "ప్రస్తుత వాతావరణ పరిస్థితులు అనుకూలంగా ఉన్నాయి. వ్యాధి లేదా పురుగుల ముప్పు తక్కువగా ఉంది. సాధారణ నీటిపారుదల మరియు నేల యాజమాన్యాన్ని కొనసాగించండి. ఇది మొక్కలను నాటడానికి లేదా నేలను సుసంపన్నం చేయడానికి కంపోస్ట్ వేయడానికి అనువైన సమయం.",
	}
)

// AssessRisk rates crop disease risk from current conditions. Wind is in km/h.
func AssessRisk(c model.CurrentWeather) model.WeatherRisk {
	switch {
	case c.Humidity > 80 && c.Temperature > 25:
		return riskHigh
	case c.Humidity > 70 && c.WindSpeed > 18:
		return riskMedium
	default:
		return riskLow
	}
}

// Weather serves the forecast and risk alert, cache first.
type Weather struct {
	d Deps
}

// NewWeather creates the weather area.
func NewWeather(d Deps) *Weather {
	return &Weather{d: d.withDefaults()}
}

// Cached returns the last stored snapshot, or NOT_AVAILABLE_OFFLINE.
func (w *Weather) Cached(ctx context.Context) (*model.WeatherSnapshot, error) {
	snap, err := cache.Get[model.WeatherSnapshot](ctx, w.d.Content, cache.KeyWeather)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Load returns the weather for (lat, lon). Online it fetches, rates and
// caches a fresh snapshot; if that fails a cached snapshot is returned
// instead. Offline only the cache is read.
func (w *Weather) Load(ctx context.Context, lat, lon float64) (*model.WeatherSnapshot, error) {
	cached, cacheErr := w.Cached(ctx)
	if !w.d.online() || w.d.Forecaster == nil {
		return cached, cacheErr
	}

	log := w.d.Logger.Named("weather")
	forecast, err := w.d.Forecaster.Forecast(ctx, lat, lon)
	if err != nil {
		if cacheErr == nil {
			log.Warn("forecast fetch failed, serving cached snapshot", zap.Error(err))
			return cached, nil
		}
		return nil, errors.NewOnlineOperationFailed("weather.forecast", err)
	}

	snap := &model.WeatherSnapshot{Forecast: *forecast, Risk: AssessRisk(forecast.Current)}
	if err := w.d.Content.Put(ctx, cache.KeyWeather, snap); err != nil {
		log.Warn("caching forecast failed", zap.Error(err))
	}
	return snap, nil
}

// Prediction returns the risk text for lang.
func Prediction(r model.WeatherRisk, lang string) string {
	if lang == "te" {
		return r.PredictionTE
	}
	return r.PredictionEN
}
