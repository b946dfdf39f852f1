package models

// City is a monitored location.
type City struct {
	Name  string  `json:"name" yaml:"name"`
	Lat   float64 `json:"lat" yaml:"lat"`
	Lon   float64 `json:"lon" yaml:"lon"`
	State string  `json:"state" yaml:"state"`
}

// DefaultCities is the built-in list of major Indian cities.
var DefaultCities = []City{
	{Name: "Delhi", Lat: 28.6139, Lon: 77.2090, State: "Delhi"},
	{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777, State: "Maharashtra"},
	{Name: "Bangalore", Lat: 12.9716, Lon: 77.5946, State: "Karnataka"},
	{Name: "Hyderabad", Lat: 17.3850, Lon: 78.4867, State: "Telangana"},
	{Name: "Chennai", Lat: 13.0827, Lon: 80.2707, State: "Tamil Nadu"},
	{Name: "Kolkata", Lat: 22.5726, Lon: 88.3639, State: "West Bengal"},
	{Name: "Pune", Lat: 18.5204, Lon: 73.8567, State: "Maharashtra"},
	{Name: "Ahmedabad", Lat: 23.0225, Lon: 72.5714, State: "Gujarat"},
	{Name: "Jaipur", Lat: 26.9124, Lon: 75.7873, State: "Rajasthan"},
	{Name: "Lucknow", Lat: 26.8467, Lon: 80.9462, State: "Uttar Pradesh"},
	{Name: "Chandigarh", Lat: 30.7333, Lon: 76.7794, State: "Punjab"},
	{Name: "Bhopal", Lat: 23.2599, Lon: 77.4126, State: "Madhya Pradesh"},
	{Name: "Patna", Lat: 25.5941, Lon: 85.1376, State: "Bihar"},
	{Name: "Visakhapatnam", Lat: 17.6868, Lon: 83.2185, State: "Andhra Pradesh"},
	{Name: "Guwahati", Lat: 26.1445, Lon: 91.7362, State: "Assam"},
	{Name: "Bhubaneswar", Lat: 20.2961, Lon: 85.8245, State: "Odisha"},
	{Name: "Thiruvananthapuram", Lat: 8.5241, Lon: 76.9366, State: "Kerala"},
	{Name: "Raipur", Lat: 21.2514, Lon: 81.6296, State: "Chhattisgarh"},
	{Name: "Ranchi", Lat: 23.3441, Lon: 85.3096, State: "Jharkhand"},
	{Name: "Shimla", Lat: 31.1048, Lon: 77.1734, State: "Himachal Pradesh"},
}
