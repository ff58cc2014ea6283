// Package api provides REST clients for the dashboard's upstream data.
//
// Upstreams:
//   - OpenWeather: https://api.openweathermap.org/data/2.5 (weather, onecall, forecast)
//   - newsdata.io: https://newsdata.io/api/1 (news)
//
// Both authenticate with an API key passed as a query parameter.
package api
