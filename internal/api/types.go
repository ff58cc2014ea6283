package api

// -----------------------------------------------------------------------------
// OpenWeather
// -----------------------------------------------------------------------------

// owCondition is one entry of the "weather" array.
type owCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

// CurrentWeatherResponse from GET /weather
type CurrentWeatherResponse struct {
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []owCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// OneCallResponse from GET /onecall (daily only)
type OneCallResponse struct {
	Daily []struct {
		Dt   int64 `json:"dt"`
		Temp struct {
			Day float64 `json:"day"`
		} `json:"temp"`
		Humidity int           `json:"humidity"`
		Weather  []owCondition `json:"weather"`
	} `json:"daily"`
}

// ForecastResponse from GET /forecast (3-hour steps over 5 days)
type ForecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []owCondition `json:"weather"`
	} `json:"list"`
}

// -----------------------------------------------------------------------------
// newsdata.io
// -----------------------------------------------------------------------------

// NewsDataResponse from GET /news
type NewsDataResponse struct {
	Status  string        `json:"status"`
	Results []NewsArticle `json:"results"`
}

// NewsArticle is one newsdata.io result.
type NewsArticle struct {
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	PubDate     string   `json:"pubDate"`
	ImageURL    string   `json:"image_url"`
	SourceID    string   `json:"source_id"`
	SourceName  string   `json:"source_name"`
	Creator     []string `json:"creator"`
}

// -----------------------------------------------------------------------------
// CoinGecko
// -----------------------------------------------------------------------------

// CoinMarket is one entry of GET /coins/markets. Pointer fields let
// validation tell a missing field from a zero value.
type CoinMarket struct {
	ID                       *string  `json:"id"`
	Name                     *string  `json:"name"`
	Symbol                   *string  `json:"symbol"`
	Image                    *string  `json:"image"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	TotalVolume              *float64 `json:"total_volume"`
	PriceChange24h           *float64 `json:"price_change_24h"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	CirculatingSupply        *float64 `json:"circulating_supply"`
	TotalSupply              *float64 `json:"total_supply"`
	ATH                      *float64 `json:"ath"`
	ATHDate                  *string  `json:"ath_date"`
}

// Valid reports whether every required field is present. total_supply may
// be null.
func (m CoinMarket) Valid() bool {
	return m.ID != nil && m.Name != nil && m.Symbol != nil && m.Image != nil &&
		m.CurrentPrice != nil && m.MarketCap != nil && m.MarketCapRank != nil &&
		m.TotalVolume != nil && m.PriceChange24h != nil &&
		m.PriceChangePercentage24h != nil && m.CirculatingSupply != nil &&
		m.ATH != nil && m.ATHDate != nil
}
