package domain

import "fmt"

// Intent es la intención de negocio de una publicación.
type Intent string

const (
	IntentCDC       Intent = "cdc"
	IntentAnalytics Intent = "analytics"
	IntentDomain    Intent = "domain"
)

// Criticality decide si un fallo de publicación llega al llamador.
type Criticality int

const (
	// Mandatory: el fallo se propaga a quien disparó la mutación.
	Mandatory Criticality = iota
	// BestEffort: el fallo se registra y se descarta.
	BestEffort
)

func (c Criticality) String() string {
	if c == BestEffort {
		return "best_effort"
	}
	return "mandatory"
}

// Route es el destino resuelto de un evento.
type Route struct {
	Topic       string
	Criticality Criticality
}

const BookEntity = "book"

// CDCTopic y AnalyticsTopic son identificadores estables: no cambian sin subir la versión.
func CDCTopic(entity string) string {
	return fmt.Sprintf("content.catalog.%s.cdc.v1", entity)
}

func AnalyticsTopic(entity string) string {
	return fmt.Sprintf("analytics.content.%s.metrics.v1", entity)
}

// TopicRouter es una tabla estática intención -> ruta. Los consumidores por
// registro (replicación, indexado) leen el CDC; las métricas leen analytics.
type TopicRouter struct {
	entity string
	table  map[Intent]Route
}

func NewTopicRouter(entity string) *TopicRouter {
	if entity == "" {
		entity = BookEntity
	}
	cdc := CDCTopic(entity)
	analytics := AnalyticsTopic(entity)
	return &TopicRouter{
		entity: entity,
		table: map[Intent]Route{
			IntentCDC:       {Topic: cdc, Criticality: Mandatory},
			IntentAnalytics: {Topic: analytics, Criticality: BestEffort},
			IntentDomain:    {Topic: analytics, Criticality: BestEffort},
		},
	}
}

func (r *TopicRouter) Entity() string {
	return r.entity
}

// Route resuelve el destino. Todos los tipos de evento de una intención
// comparten topic: el orden por entidad sólo existe dentro de un topic.
func (r *TopicRouter) Route(eventType EventType, intent Intent) (Route, error) {
	if !eventType.Valid() {
		return Route{}, &InvalidEventError{Reason: fmt.Sprintf("cannot route event type %q", eventType)}
	}
	route, ok := r.table[intent]
	if !ok {
		return Route{}, &InvalidEventError{Reason: fmt.Sprintf("unknown routing intent %q", intent)}
	}
	return route, nil
}

// Topics devuelve los topics distintos de la tabla (para health checks y bootstrap).
func (r *TopicRouter) Topics() []string {
	cdc := r.table[IntentCDC].Topic
	analytics := r.table[IntentAnalytics].Topic
	if cdc == analytics {
		return []string{cdc}
	}
	return []string{cdc, analytics}
}
