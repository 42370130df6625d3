package specs

// MappingVersion tracks the lookup tables below. Bump when DefectToSpec or
// FeatureToSpec change so old bundles can be told apart from new ones.
const MappingVersion = "1.8.0"

// RequirementTemplate is one OEM requirement line for a defect or feature.
type RequirementTemplate struct {
	Requirement  string
	MaterialSpec string
	Tolerance    string
}

// QCTestTemplate is one QC procedure tied to a defect or feature.
type QCTestTemplate struct {
	Category      string
	Name          string
	Method        string
	PassCriterion string
}

// DefectMapping holds everything needed to turn one defect type into OEM
// requirements and QC tests.
type DefectMapping struct {
	Requirements []RequirementTemplate
	QCTests      []QCTestTemplate
	PriorityBase string
}

// FeatureMapping holds the enhancement spec for one wished-for feature.
// Keys of FeatureToSpec are matched by substring against the wish text.
type FeatureMapping struct {
	Requirement  string
	MaterialSpec string
	Tolerance    string
	Accessory    string
	QCTest       *QCTestTemplate
}

// DefectToSpec maps defect types to car phone mount OEM corrections.
var DefectToSpec = map[string]DefectMapping{
	"mechanical_failure": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Ball-joint / pivot mechanism rated for 50,000 cycles minimum",
				MaterialSpec: "Zinc alloy or stainless steel 304 pivot pins; PC+ABS housing, UL94-V0",
				Tolerance:    "+/- 0.3mm on pivot bore diameter",
			},
			{
				Requirement:  "Arm locking mechanism must hold 2kg static load without creep",
				MaterialSpec: "Spring-loaded steel lock with hardened teeth (HRC 40+)",
				Tolerance:    "Lock engagement depth >= 2mm",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "cycles",
				Name:          "Arm open/close cycle test",
				Method:        "Open/close arm 50,000 times at 30 cycles/min",
				PassCriterion: "No crack, no loosening, retention force within 80% of original",
			},
			{
				Category:      "load",
				Name:          "Static load hold test",
				Method:        "Mount 500g phone + 1.5kg weight, hold 24h horizontal",
				PassCriterion: "Zero displacement beyond 1mm",
			},
		},
		PriorityBase: "CRITICAL",
	},
	"poor_grip": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Silicone grip pads on all phone-contact surfaces, Shore A 40-50",
				MaterialSpec: "Medical-grade silicone, non-yellowing, anti-slip texture (0.8mm relief)",
				Tolerance:    "Pad thickness 1.5mm +/- 0.2mm",
			},
			{
				Requirement:  "Grip retention force >= 3N per contact point (minimum 4 contact points)",
				MaterialSpec: "TPU over-mold on clamp arms",
				Tolerance:    "Contact surface area >= 200mm2 per pad",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "vibration",
				Name:          "Vibration endurance test (vehicle simulation)",
				Method:        "Mount phone (200g), shaker table 5-200Hz, 2G acceleration, 2h",
				PassCriterion: "Phone must not shift > 2mm; no pad detachment",
			},
			{
				Category:      "surface",
				Name:          "Grip force measurement",
				Method:        "Pull-test phone from mount at 90 degrees",
				PassCriterion: "Release force >= 8N",
			},
		},
		PriorityBase: "CRITICAL",
	},
	"installation_issue": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Suction cup with pump-lock mechanism (not twist-only)",
				MaterialSpec: "PU gel suction disc, 72mm diameter minimum, pump-actuated vacuum",
				Tolerance:    "Vacuum hold >= -0.6 bar after 72h on glass",
			},
			{
				Requirement: "Illustrated quick-start guide (max 4 steps), bilingual EN/ES",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "surface",
				Name:          "Suction hold test (multiple surfaces)",
				Method:        "Apply to glass, textured plastic, leather dash -- hold 1kg for 72h each",
				PassCriterion: "No detachment on glass; warning label for textured surfaces",
			},
			{
				Category:      "thermal",
				Name:          "Suction thermal cycle",
				Method:        "10 cycles: 2h at 80C then 2h at -10C with 500g load",
				PassCriterion: "No detachment during any cycle",
			},
		},
		PriorityBase: "HIGH",
	},
	"compatibility_issue": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Adjustable clamp range: 60mm to 95mm (covers 4.7\" to 7\" with case)",
				MaterialSpec: "Spring-loaded auto-grip arms with 35mm travel",
				Tolerance:    "Clamp width +/- 1mm at each extreme",
			},
			{
				Requirement: "Camera and button cutout zones -- no obstruction within 15mm of edges",
				Tolerance:   "Arm width <= 12mm at phone contact zone",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "compatibility",
				Name:          "Multi-phone compatibility test",
				Method:        "Test: iPhone 15 Pro Max + case, Samsung S24 Ultra + case, Pixel 8 Pro + case",
				PassCriterion: "All phones fit, no camera/button obstruction, stable hold",
			},
		},
		PriorityBase: "HIGH",
	},
	"material_quality": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Main housing: PC+ABS blend (not pure ABS), matte finish, anti-UV additive",
				MaterialSpec: "PC+ABS GF10 or Bayblend T65 equivalent; 2% UV stabilizer",
				Tolerance:    "Surface roughness Ra 0.8-1.6um (matte); no visible weld lines",
			},
			{
				Requirement:  "All visible screws replaced with snap-fit or hidden fasteners",
				MaterialSpec: "Stainless steel internal fasteners where needed",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "surface",
				Name:          "Surface quality inspection",
				Method:        "Visual check 100%: weld lines, flash, color uniformity",
				PassCriterion: "Zero visible defects at 30cm viewing distance",
			},
			{
				Category:      "thermal",
				Name:          "Material aging test (UV)",
				Method:        "120h UV-B exposure per ASTM G154",
				PassCriterion: "No yellowing (delta-b < 2.0), no cracking",
			},
		},
		PriorityBase: "MEDIUM",
	},
	"vibration_noise": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Dampening pads at all metal-to-plastic contact points",
				MaterialSpec: "EPDM rubber gaskets, 1mm thickness, self-adhesive backing",
				Tolerance:    "Gasket compression set < 25% after 1000h at 70C",
			},
			{
				Requirement:  "All joints pre-loaded (zero free-play in neutral position)",
				MaterialSpec: "Spring washers on all adjustment joints",
				Tolerance:    "Free play < 0.1mm in any direction when locked",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "vibration",
				Name:          "Road noise simulation test",
				Method:        "Shaker table: random vibration 10-500Hz, 1.5G RMS, 4h with 200g phone",
				PassCriterion: "No audible rattle; phone screen readable throughout",
			},
			{
				Category:      "vibration",
				Name:          "Bump shock test",
				Method:        "50 half-sine shocks at 15G, 11ms pulse",
				PassCriterion: "No loosening, no audible rattle post-test",
			},
		},
		PriorityBase: "HIGH",
	},
	"heat_issue": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Ventilated backplate design (min 40% open area behind phone)",
				MaterialSpec: "Perforated or skeletal cradle design; no solid plate behind phone",
				Tolerance:    "Airflow opening total area >= 2000mm2",
			},
			{
				Requirement: "No wireless charging coil unless explicitly requested (heat source)",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "thermal",
				Name:          "Heat dissipation test",
				Method:        "Mount phone running GPS nav for 2h in 45C ambient",
				PassCriterion: "Phone surface temperature delta vs unmounted < 5C",
			},
			{
				Category:      "thermal",
				Name:          "Dashboard thermal exposure",
				Method:        "Mount exposed to 90C for 8h (simulating parked car in sun)",
				PassCriterion: "No deformation, no suction loss, no material degradation",
			},
		},
		PriorityBase: "HIGH",
	},
	"size_fit": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Compact footprint: mount head <= 80mm x 60mm when arms closed",
				MaterialSpec: "Low-profile design, arm fold-in mechanism",
				Tolerance:    "Overall height from base <= 120mm at lowest position",
			},
			{
				Requirement:  "Adjustable neck angle: 0-360 degrees rotation, 0-90 degrees tilt",
				MaterialSpec: "Ball-joint or dual-axis hinge",
				Tolerance:    "Rotation lock with 15-degree detents",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "compatibility",
				Name:          "Windshield visibility test",
				Method:        "Mount installed on standard sedan windshield, driver seated",
				PassCriterion: "Mount must not obstruct > 5% of driver forward view angle",
			},
		},
		PriorityBase: "MEDIUM",
	},
	"durability": {
		Requirements: []RequirementTemplate{
			{
				Requirement:  "Suction cup adhesion rated for 12 months minimum (re-stick capable)",
				MaterialSpec: "PU gel disc with nano-texture; washable and reusable surface",
				Tolerance:    "Re-stick test: wash with water, re-apply, must hold 1kg for 72h",
			},
			{
				Requirement:  "All adhesive pads: 3M VHB 4910 or equivalent (not generic tape)",
				MaterialSpec: "3M VHB 4910 or tesa ACXplus 7078",
				Tolerance:    "Peel strength >= 25 N/cm on ABS per ASTM D3330",
			},
		},
		QCTests: []QCTestTemplate{
			{
				Category:      "cycles",
				Name:          "Long-term adhesion test",
				Method:        "Mount with 500g phone on glass, ambient cycle (40C/10C) for 30 days",
				PassCriterion: "No detachment; suction vacuum loss < 20%",
			},
			{
				Category:      "cycles",
				Name:          "Arm wear endurance",
				Method:        "10,000 phone insert/remove cycles",
				PassCriterion: "Retention force within 70% of original",
			},
		},
		PriorityBase: "HIGH",
	},
}

// FeatureToSpec maps wished-for features to enhancement specs. Keys are
// matched case-insensitively as substrings of the wish text.
var FeatureToSpec = map[string]FeatureMapping{
	"wireless charging": {
		Requirement:  "Integrated Qi wireless charging coil, 10W, MagSafe-compatible alignment",
		MaterialSpec: "Qi-certified charging module; N52 neodymium alignment magnets (ring array)",
		Tolerance:    "Charging coil center alignment +/- 2mm from phone center",
		Accessory:    "USB-C to 12V car adapter cable (1.2m, braided)",
		QCTest: &QCTestTemplate{
			Category:      "thermal",
			Name:          "Wireless charging thermal test",
			Method:        "Charge phone at 10W for 1h in 35C ambient",
			PassCriterion: "Phone + mount surface < 45C; charging efficiency > 75%",
		},
	},
	"cable organizer": {
		Requirement:  "Integrated cable management clip and routing channel on mount arm",
		MaterialSpec: "TPU cable clip, snap-in design, fits cables 3-6mm diameter",
		Accessory:    "2x adhesive cable clips (spare)",
	},
	"night mode": {
		Requirement:  "Soft LED indicator (power/charging status), auto-dim in low light",
		MaterialSpec: "0603 SMD LED, warm white 2700K, max 0.5cd brightness",
		Tolerance:    "Light sensor threshold: auto-dim below 50 lux",
		QCTest: &QCTestTemplate{
			Category:      "surface",
			Name:          "LED glare test",
			Method:        "Mount in dark car, LED active",
			PassCriterion: "No visible reflection on windshield from driver position",
		},
	},
	"adhesive": {
		Requirement:  "Premium adhesive disc alternative for textured dashboards",
		MaterialSpec: "3M VHB 5952 disc, 70mm diameter, with alignment template",
		Tolerance:    "Peel strength >= 30 N/cm on textured ABS",
		Accessory:    "2x spare adhesive discs in package",
		QCTest: &QCTestTemplate{
			Category:      "surface",
			Name:          "Textured surface adhesion test",
			Method:        "Apply to leather-grain and wood-grain dash samples, hold 1kg for 7 days",
			PassCriterion: "No detachment on any tested surface",
		},
	},
	"magsafe": {
		Requirement:  "MagSafe-compatible magnetic alignment ring (Apple MFi spec)",
		MaterialSpec: "18-magnet N52 ring array matching Apple MagSafe puck geometry",
		Tolerance:    "Magnet ring center +/- 1mm; pull force >= 20N with MagSafe case",
		Accessory:    "Metal ring sticker for non-MagSafe phones",
		QCTest: &QCTestTemplate{
			Category:      "load",
			Name:          "MagSafe hold strength test",
			Method:        "Attach phone with MagSafe case, apply 15G shock",
			PassCriterion: "Phone must not detach",
		},
	},
	"one hand": {
		Requirement:  "Auto-grip mechanism with trigger release (one-hand operation)",
		MaterialSpec: "Spring-loaded gravity/sensor arms with push-release button",
		Tolerance:    "Trigger force 3-5N; auto-grip close time < 0.5s",
		QCTest: &QCTestTemplate{
			Category:      "cycles",
			Name:          "One-hand operation test",
			Method:        "Insert and remove phone 1,000 times with one hand",
			PassCriterion: "Mechanism functions correctly with < 5N force throughout",
		},
	},
	"thicker case": {
		Requirement:  "Extended clamp range to accommodate cases up to 15mm thick",
		MaterialSpec: "Wider spring travel on grip arms (45mm total travel)",
		Tolerance:    "Clamp max opening >= 100mm (for 6.7\" phone + 15mm case)",
	},
}

// Defaults applied to every generated spec.
var (
	DefaultGeneralMaterials = []string{
		"Main body: PC+ABS blend (UL94-V0 fire rating)",
		"Grip pads: Silicone Shore A 40-50, anti-slip texture",
		"Metal parts: Zinc alloy or stainless steel 304 (salt spray 48h min)",
		"Suction cup: PU gel, 72mm+ diameter",
		"Packaging: FSC-certified cardboard, soy ink printing",
	}

	DefaultAccessories = []string{
		"1x Quick-start guide (EN/ES, illustrated, 4 steps max)",
		"1x Dashboard adhesive disc (3M VHB backup)",
		"1x Cable management clip",
	}

	DefaultPackagingNotes = []string{
		"Retail-ready packaging with Amazon barcode window",
		"Inner tray: pulp molded (no foam/plastic)",
		"Product dimensions and weight on outer box",
		"Insert card with QR code to video installation guide",
	}
)

// categoryLabels name the QC checklist sections.
var categoryLabels = map[string]string{
	"vibration":     "VIBRATION & SHOCK",
	"cycles":        "ENDURANCE & CYCLES",
	"thermal":       "THERMAL & ENVIRONMENTAL",
	"surface":       "SURFACE & VISUAL",
	"load":          "LOAD & RETENTION",
	"compatibility": "COMPATIBILITY",
}

// SeverityToPriority maps a defect severity score to an OEM priority label.
func SeverityToPriority(severity float64) string {
	switch {
	case severity >= 0.8:
		return "CRITICAL"
	case severity >= 0.6:
		return "HIGH"
	case severity >= 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
