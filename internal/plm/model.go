package plm

// Product is a product container.
type Product struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
}

// Part is a created part as returned by the server.
type Part struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Number string `json:"Number"`
}

type csrfToken struct {
	NonceKey   string `json:"NonceKey"`
	NonceValue string `json:"NonceValue"`
}

// EnumValue is an OData enumeration with an optional display label.
type EnumValue struct {
	Value   string `json:"Value"`
	Display string `json:"Display,omitempty"`
}

type partRequest struct {
	Name                     string    `json:"Name"`
	Number                   string    `json:"Number"`
	AssemblyMode             EnumValue `json:"AssemblyMode"`
	PhantomManufacturingPart bool      `json:"PhantomManufacturingPart"`
	Context                  string    `json:"Context@odata.bind"`
	EndItem                  bool      `json:"EndItem"`
	DefaultUnit              EnumValue `json:"DefaultUnit"`
	DefaultTraceCode         EnumValue `json:"DefaultTraceCode"`
	Source                   EnumValue `json:"Source"`
	GatheringPart            bool      `json:"GatheringPart"`
	ConfigurableModule       EnumValue `json:"ConfigurableModule"`
}

func newPartRequest(name, number, containerID string) partRequest {
	return partRequest{
		Name:               name,
		Number:             number,
		AssemblyMode:       EnumValue{Value: "separable", Display: "Separable"},
		Context:            "Containers('" + containerID + "')",
		EndItem:            true,
		DefaultUnit:        EnumValue{Value: "ea"},
		DefaultTraceCode:   EnumValue{Value: "0", Display: "Untraced"},
		Source:             EnumValue{Value: "make", Display: "Make"},
		ConfigurableModule: EnumValue{Value: "standard", Display: "No"},
	}
}
