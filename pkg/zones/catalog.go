package zones

// DefaultCatalog is the built-in Mumbai incident zone set used when no
// catalog file is configured.
func DefaultCatalog() []Zone {
	return []Zone{
		{
			ID: "Z-DHARAVI", Name: "Dharavi", Severity: SeverityHigh,
			CenterLat: 19.0438, CenterLng: 72.8534, RadiusM: 800, IncidentCount: 142,
			Description: "High petty-theft and scam reports. Visit only with registered guides.",
		},
		{
			ID: "Z-KAMATHIPURA", Name: "Kamathipura", Severity: SeverityHigh,
			CenterLat: 18.9632, CenterLng: 72.8274, RadiusM: 600, IncidentCount: 118,
			Description: "Frequent bag-snatching and fraud incidents reported after dark.",
		},
		{
			ID: "Z-KURLA", Name: "Kurla Station Area", Severity: SeverityHigh,
			CenterLat: 19.0659, CenterLng: 72.8793, RadiusM: 500, IncidentCount: 97,
			Description: "Overcrowding-related incidents and pickpocketing near the station.",
		},
		{
			ID: "Z-DADAR", Name: "Dadar East Market", Severity: SeverityMedium,
			CenterLat: 19.0178, CenterLng: 72.8478, RadiusM: 450, IncidentCount: 63,
			Description: "Moderate scam activity targeting tourists in market areas.",
		},
		{
			ID: "Z-ANDHERI", Name: "Andheri Station West", Severity: SeverityMedium,
			CenterLat: 19.1197, CenterLng: 72.8464, RadiusM: 500, IncidentCount: 55,
			Description: "Auto-rickshaw overcharging and minor theft incidents.",
		},
		{
			ID: "Z-GRANTRD", Name: "Grant Road Area", Severity: SeverityMedium,
			CenterLat: 18.9638, CenterLng: 72.8195, RadiusM: 400, IncidentCount: 48,
			Description: "Moderate reports of tourist scams and overcharging by vendors.",
		},
		{
			ID: "Z-BANDRA", Name: "Bandra West Promenade", Severity: SeverityLow,
			CenterLat: 19.0544, CenterLng: 72.8202, RadiusM: 350, IncidentCount: 22,
			Description: "Occasional phone-snatching incidents reported in the evening.",
		},
		{
			ID: "Z-COLABA", Name: "Colaba Market", Severity: SeverityLow,
			CenterLat: 18.9217, CenterLng: 72.8318, RadiusM: 400, IncidentCount: 18,
			Description: "Low-level haggling scams. Generally safe during the day.",
		},
	}
}
