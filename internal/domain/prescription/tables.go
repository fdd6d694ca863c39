package prescription

// Message types the pipeline can produce.
const (
	MessageTypeRDE = "RDE^O11"
	MessageTypeORM = "ORM^O01"
)

// HL7 user-defined tables used by the catalog. Unknown codes are written as
// given.
var (
	// Table 0001.
	administrativeSex = map[string]string{
		"M": "Male",
		"F": "Female",
		"U": "Unknown",
		"A": "Ambiguous",
		"N": "Not applicable",
		"O": "Other",
	}

	// Table 0004.
	patientClass = map[string]string{
		"E": "Emergency",
		"I": "Inpatient",
		"O": "Outpatient",
		"P": "Preadmit",
		"R": "Recurring patient",
		"B": "Obstetrics",
		"C": "Commercial Account",
		"N": "Not Applicable",
		"U": "Unknown",
	}

	// Table 0162.
	routeOfAdministration = map[string]string{
		"PO":   "Oral",
		"IV":   "Intravenous",
		"IM":   "Intramuscular",
		"SC":   "Subcutaneous",
		"INH":  "Inhalation",
		"TOP":  "Topical",
		"PR":   "Rectal",
		"PV":   "Vaginal",
		"SL":   "Sublingual",
		"BUCC": "Buccal",
		"NAS":  "Nasal",
		"OPH":  "Ophthalmic",
		"OT":   "Otic",
		"TD":   "Transdermal",
		"NG":   "Nasogastric",
		"GT":   "Gastrostomy tube",
	}

	unitsOfMeasure = map[string]string{
		"TAB": "Tablet",
		"CAP": "Capsule",
		"ML":  "Milliliter",
		"MG":  "Milligram",
		"G":   "Gram",
		"MCG": "Microgram",
		"L":   "Liter",
		"CM":  "Centimeter",
		"KG":  "Kilogram",
		"MEQ": "Milliequivalent",
		"IU":  "International Unit",
		"HR":  "Hour",
		"DAY": "Day",
		"WK":  "Week",
		"MO":  "Month",
	}

	medicationForm = map[string]string{
		"TAB": "Tablet",
		"CAP": "Capsule",
		"SYR": "Syrup",
		"SUS": "Suspension",
		"INJ": "Injection",
		"CRE": "Cream",
		"OIN": "Ointment",
		"SUP": "Suppository",
		"SOL": "Solution",
		"POW": "Powder",
		"GEL": "Gel",
		"LOT": "Lotion",
		"AER": "Aerosol",
		"PAS": "Paste",
		"FIL": "Film",
		"IMP": "Implant",
	}
)

// describe returns the table description for code, or code itself.
func describe(table map[string]string, code string) string {
	if d, ok := table[code]; ok {
		return d
	}
	return code
}

// KnownRoute reports whether code is in table 0162.
func KnownRoute(code string) bool {
	_, ok := routeOfAdministration[code]
	return ok
}

// KnownUnit reports whether code is a recognised unit of measure.
func KnownUnit(code string) bool {
	_, ok := unitsOfMeasure[code]
	return ok
}

// KnownSex reports whether code is in table 0001.
func KnownSex(code string) bool {
	_, ok := administrativeSex[code]
	return ok
}

// KnownPatientClass reports whether code is in table 0004.
func KnownPatientClass(code string) bool {
	_, ok := patientClass[code]
	return ok
}
