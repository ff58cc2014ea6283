package api

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/rickgao/pricepulse/internal/model"
)

// HistoryDateLayout renders history dates as month/day/year.
const HistoryDateLayout = "1/2/2006"

// MaxHistoryDays bounds the history timeline.
const MaxHistoryDays = 7

// MaxArticles is the number of headlines returned by the news proxy.
const MaxArticles = 5

func conditions(ws []owCondition) string {
	if len(ws) == 0 {
		return ""
	}
	return ws[0].Main
}

// ToWeatherCity normalizes a current weather response. Temperatures are
// rounded to whole degrees.
func ToWeatherCity(r CurrentWeatherResponse) model.WeatherCity {
	return model.WeatherCity{
		Name:        r.Name,
		Temperature: math.Round(r.Main.Temp),
		Humidity:    r.Main.Humidity,
		Conditions:  conditions(r.Weather),
		WindSpeed:   r.Wind.Speed,
	}
}

// OneCallHistory converts up to MaxHistoryDays daily entries.
func OneCallHistory(r OneCallResponse) []model.WeatherHistoryEntry {
	n := min(len(r.Daily), MaxHistoryDays)
	out := make([]model.WeatherHistoryEntry, 0, n)
	for _, d := range r.Daily[:n] {
		out = append(out, model.WeatherHistoryEntry{
			Date:        time.Unix(d.Dt, 0).UTC().Format(HistoryDateLayout),
			Temperature: math.Round(d.Temp.Day),
			Humidity:    d.Humidity,
			Conditions:  conditions(d.Weather),
		})
	}
	return out
}

// ForecastHistory keeps the first forecast step of each calendar day.
func ForecastHistory(r ForecastResponse) []model.WeatherHistoryEntry {
	seen := make(map[string]bool)
	out := make([]model.WeatherHistoryEntry, 0, 6)
	for _, item := range r.List {
		date := time.Unix(item.Dt, 0).UTC().Format(HistoryDateLayout)
		if seen[date] {
			continue
		}
		seen[date] = true
		out = append(out, model.WeatherHistoryEntry{
			Date:        date,
			Temperature: math.Round(item.Main.Temp),
			Humidity:    item.Main.Humidity,
			Conditions:  conditions(item.Weather),
		})
	}
	return out
}

// ToArticle normalizes a newsdata.io result.
func ToArticle(a NewsArticle) model.Article {
	desc := a.Description
	if desc == "" {
		if a.Content != "" {
			desc = truncate(a.Content, 100) + "..."
		} else {
			desc = "No description available"
		}
	}
	source := a.SourceName
	if source == "" {
		source = "Unknown"
	}
	return model.Article{
		Title:       a.Title,
		Description: desc,
		URL:         a.Link,
		Source:      source,
		PublishedAt: a.PubDate,
		ImageURL:    a.ImageURL,
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ToMarketData converts a validated CoinGecko market entry.
func ToMarketData(m CoinMarket) model.MarketData {
	return model.MarketData{
		ID:                       *m.ID,
		Name:                     *m.Name,
		Symbol:                   *m.Symbol,
		Image:                    *m.Image,
		CurrentPrice:             *m.CurrentPrice,
		MarketCap:                *m.MarketCap,
		MarketCapRank:            *m.MarketCapRank,
		TotalVolume:              *m.TotalVolume,
		PriceChange24h:           *m.PriceChange24h,
		PriceChangePercentage24h: *m.PriceChangePercentage24h,
		CirculatingSupply:        *m.CirculatingSupply,
		TotalSupply:              m.TotalSupply,
		ATH:                      *m.ATH,
		ATHDate:                  *m.ATHDate,
	}
}
